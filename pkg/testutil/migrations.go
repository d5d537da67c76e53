package testutil

// Migrations returns the batch lifecycle schema for tests. Constraint names
// matter: the error-mapping layer keys on them to produce typed conflicts.
func Migrations() []string {
	return []string{
		// Product catalog (owned externally; the batch engine reads it and
		// writes back the aggregate on-hand quantity)
		`CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			category VARCHAR(100) NOT NULL DEFAULT '',
			unit VARCHAR(50) NOT NULL DEFAULT 'unit',
			cost_per_unit DECIMAL(12,4),
			min_stock INT NOT NULL DEFAULT 0,
			quantity_on_hand INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Batches
		`CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			product_id UUID NOT NULL REFERENCES products(id),
			batch_number VARCHAR(100) NOT NULL,
			quantity INT NOT NULL,
			initial_quantity INT NOT NULL,
			expiry_date DATE NOT NULL,
			manufacture_date DATE,
			cost_per_unit DECIMAL(12,4),
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT batches_product_batch_number_key UNIQUE (product_id, batch_number),
			CONSTRAINT batches_quantity_non_negative CHECK (quantity >= 0),
			CONSTRAINT batches_initial_positive CHECK (initial_quantity > 0),
			CONSTRAINT batches_quantity_within_initial CHECK (quantity <= initial_quantity),
			CONSTRAINT batches_status_valid CHECK (status IN ('ACTIVE', 'DEPLETED', 'EXPIRED', 'QUARANTINED'))
		)`,
		`CREATE INDEX IF NOT EXISTS batches_fifo_idx ON batches (product_id, status, expiry_date, id)`,

		// Consumption ledger
		`CREATE TABLE IF NOT EXISTS batch_consumptions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			product_id UUID NOT NULL REFERENCES products(id),
			batch_id UUID NOT NULL REFERENCES batches(id),
			batch_number VARCHAR(100) NOT NULL,
			consumed INT NOT NULL CHECK (consumed > 0),
			remaining INT NOT NULL CHECK (remaining >= 0),
			reason VARCHAR(500) NOT NULL,
			performed_by VARCHAR(255) NOT NULL DEFAULT 'system',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS batch_consumptions_product_idx ON batch_consumptions (product_id, created_at DESC)`,

		// Quarantine records; the partial unique index enforces at most one
		// open episode per batch
		`CREATE TABLE IF NOT EXISTS quarantine_records (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			batch_id UUID NOT NULL REFERENCES batches(id),
			product_id UUID NOT NULL REFERENCES products(id),
			quantity INT NOT NULL CHECK (quantity >= 0),
			reason VARCHAR(500) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING_REVIEW'
				CHECK (status IN ('PENDING_REVIEW', 'DISPOSED', 'RETURNED', 'RELEASED')),
			estimated_loss DECIMAL(14,4),
			created_by VARCHAR(255) NOT NULL DEFAULT 'system',
			resolved_by VARCHAR(255),
			resolved_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS open_quarantine_per_batch_idx
			ON quarantine_records (batch_id) WHERE status = 'PENDING_REVIEW'`,

		// Immutable quarantine action log
		`CREATE TABLE IF NOT EXISTS quarantine_actions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			record_id UUID NOT NULL REFERENCES quarantine_records(id) ON DELETE CASCADE,
			action VARCHAR(20) NOT NULL,
			notes VARCHAR(1000) NOT NULL DEFAULT '',
			performed_by VARCHAR(255) NOT NULL DEFAULT 'system',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Daily expiry snapshots, at most one per calendar date
		`CREATE TABLE IF NOT EXISTS expiry_trend_snapshots (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			snapshot_date DATE NOT NULL,
			expired_count INT NOT NULL DEFAULT 0,
			expiring_7_count INT NOT NULL DEFAULT 0,
			expiring_30_count INT NOT NULL DEFAULT 0,
			expiring_60_count INT NOT NULL DEFAULT 0,
			expiring_90_count INT NOT NULL DEFAULT 0,
			expired_value DECIMAL(14,4) NOT NULL DEFAULT 0,
			expiring_7_value DECIMAL(14,4) NOT NULL DEFAULT 0,
			expiring_30_value DECIMAL(14,4) NOT NULL DEFAULT 0,
			expiring_60_value DECIMAL(14,4) NOT NULL DEFAULT 0,
			expiring_90_value DECIMAL(14,4) NOT NULL DEFAULT 0,
			avg_days_to_expiry DOUBLE PRECISION NOT NULL DEFAULT 0,
			critical_category VARCHAR(100),
			critical_count INT NOT NULL DEFAULT 0,
			trend_direction VARCHAR(20) NOT NULL DEFAULT 'STABLE'
				CHECK (trend_direction IN ('IMPROVING', 'STABLE', 'WORSENING')),
			trend_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			active_batch_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT expiry_trend_snapshots_snapshot_date_key UNIQUE (snapshot_date)
		)`,
	}
}
