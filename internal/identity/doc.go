// Package identity verifies bearer credentials against the external
// identity provider and resolves provider subjects to internal users.
package identity
