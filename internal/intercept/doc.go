// Package intercept rewrites upstream answers before they are relayed to clients. A Rule pairs a
// pure predicate with a pure transform; a Pipeline folds a message through every matching rule in
// registration order.
package intercept
