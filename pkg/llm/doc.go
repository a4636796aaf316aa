// Package llm is a provider-neutral chat model client with tool calling.
//
// OpenAI, Anthropic and Gemini providers translate the neutral Request and
// Response types to their SDKs. Failover tries providers in priority order
// and parks failing ones in a cooldown. Scripted replays canned responses
// for tests.
package llm
