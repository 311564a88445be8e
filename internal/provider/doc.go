// Package provider describes the model API providers an agent can be
// configured with.
//
// The set of kinds is closed. Each kind carries the model identifier written
// into the agent's gateway configuration and the environment variable its
// API key is injected through. Look kinds up with Lookup; iterate with Kinds.
package provider
