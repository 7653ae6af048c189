package postgres

import "aurum-outbox/internal/outbox"

// Executor is the subset of pgx used by the spending repositories. It is
// satisfied by both *pgxpool.Pool (for reads) and a pgx.Tx obtained through
// an outbox.Transaction (for writes that must land alongside an outbox
// append). Reusing outbox.Executor keeps the spending and outbox packages
// talking about the same transactional boundary.
type Executor = outbox.Executor
