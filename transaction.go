package syncrun

// TransactionManager used by the bulk-write dispatcher to apply one operation
// batch in a transaction.
type TransactionManager interface {
	BeginTx() (tx interface{}, err error)
	Commit(tx interface{}) error
	Rollback(tx interface{}) error
}
