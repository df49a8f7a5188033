// Package enhancer defines the contract shared by the prompt enhancement
// backends and the pieces of behaviour they have in common: the instruction
// template, the response parsing chain, the combination rule, the error kinds
// and sequential batching.
package enhancer
