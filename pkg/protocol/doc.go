// ABOUTME: playbridge wire protocol package
// ABOUTME: Defines the JSON envelope shared by the bridge, the hub and remote peers
// Package protocol implements the playbridge wire protocol.
//
// Every frame is a single JSON envelope tagged by type and action. The
// stream is ordered and untagged: a response follows its request
// positionally, there are no correlation identifiers.
//
// Example:
//
//	env, err := protocol.NewCommand(protocol.TypePlayback, protocol.ActionVolume, 40)
//	frame, err := env.Encode()
package protocol
