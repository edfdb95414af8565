// Package mysql implements the ledger store on top of MySQL. It encapsulates
// schema migrations, connection pooling, and the transactional mapping between
// ledger entities and their relational form.
package mysql
