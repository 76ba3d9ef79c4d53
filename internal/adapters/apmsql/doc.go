// Package apmsql wraps database/sql drivers so that every statement executed
// with a request context is timed and reported to hooks installed on that
// context.
//
// Hooks are scoped: InstallHook returns a derived context and a release
// function. Any number of wrapped connections may be used with the context
// at the same time; each reports to the same hooks. After release the hook
// is silent even if the context outlives the request.
//
// Statements executed without a context (db.Query instead of db.QueryContext)
// carry context.Background and are therefore not observed.
package apmsql
