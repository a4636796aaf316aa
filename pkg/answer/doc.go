// Package answer implements the answer-capability step: a bounded loop in
// which a model proposes tagged operations (retrieve evidence, finalize an
// answer, or declare it cannot answer) through tool calls.
//
// The loop never answers from general knowledge on its own; grounding comes
// from a knowledge.Retriever. Model failures surface as errors, which the
// conversation engine turns into a cannot-answer offer.
package answer
