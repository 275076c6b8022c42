// Package auth guards the status API with named bearer tokens, each carrying
// a set of permissions.
package auth
