// Package presence tracks which users are connected and through which
// connection handles. An entry exists if and only if the user has at least
// one live handle; one handle per user is designated primary and receives
// user-targeted pushes.
package presence
