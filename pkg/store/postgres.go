package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS wallets (
    address TEXT PRIMARY KEY,
    exchange TEXT DEFAULT '',
    tags TEXT DEFAULT '[]',
    first_seen BIGINT DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transactions (
    signature TEXT PRIMARY KEY,
    slot BIGINT NOT NULL,
    block_time BIGINT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT TRUE,
    fee BIGINT DEFAULT 0,
    event_count INT DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transfer_events (
    signature TEXT NOT NULL,
    event_index INT NOT NULL,
    slot BIGINT NOT NULL,
    block_time BIGINT NOT NULL,
    kind TEXT NOT NULL,
    instruction_index INT DEFAULT -1,
    inner_index INT DEFAULT -1,
    transfer_type TEXT DEFAULT '',
    from_wallet TEXT DEFAULT '',
    to_wallet TEXT DEFAULT '',
    mint TEXT DEFAULT '',
    amount_raw BIGINT DEFAULT 0,
    amount DOUBLE PRECISION DEFAULT 0,
    from_token_account TEXT DEFAULT '',
    to_token_account TEXT DEFAULT '',
    PRIMARY KEY (signature, event_index)
);

CREATE TABLE IF NOT EXISTS wallet_relationships (
    from_wallet TEXT NOT NULL,
    to_wallet TEXT NOT NULL,
    native_amount_total DOUBLE PRECISION DEFAULT 0,
    token_amount_total DOUBLE PRECISION DEFAULT 0,
    transaction_count BIGINT DEFAULT 0,
    first_seen BIGINT DEFAULT 0,
    last_seen BIGINT DEFAULT 0,
    PRIMARY KEY (from_wallet, to_wallet)
);

CREATE TABLE IF NOT EXISTS relationship_signatures (
    from_wallet TEXT NOT NULL,
    to_wallet TEXT NOT NULL,
    signature TEXT NOT NULL,
    PRIMARY KEY (from_wallet, to_wallet, signature)
);

CREATE INDEX IF NOT EXISTS idx_events_from ON transfer_events(from_wallet);
CREATE INDEX IF NOT EXISTS idx_events_to ON transfer_events(to_wallet);
CREATE INDEX IF NOT EXISTS idx_events_time ON transfer_events(block_time);
CREATE INDEX IF NOT EXISTS idx_events_slot ON transfer_events(slot);
CREATE INDEX IF NOT EXISTS idx_rel_from ON wallet_relationships(from_wallet);
CREATE INDEX IF NOT EXISTS idx_rel_to ON wallet_relationships(to_wallet);
`

// PostgresStore serves deployments that outgrow sqlite. Row-level upsert
// semantics make concurrent ingestion safe without application locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	if _, err := pool.Exec(context.Background(), postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrUnavailable, err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertWallet(ctx context.Context, address, exchange, tags string, firstSeen int64) error {
	if tags == "" {
		tags = "[]"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (address, exchange, tags, first_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			exchange = CASE WHEN EXCLUDED.exchange <> '' THEN EXCLUDED.exchange ELSE wallets.exchange END,
			tags = CASE WHEN EXCLUDED.tags <> '[]' THEN EXCLUDED.tags ELSE wallets.tags END,
			first_seen = CASE
				WHEN wallets.first_seen = 0 THEN EXCLUDED.first_seen
				WHEN EXCLUDED.first_seen > 0 AND EXCLUDED.first_seen < wallets.first_seen THEN EXCLUDED.first_seen
				ELSE wallets.first_seen END`,
		address, exchange, tags, firstSeen)
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT address, COALESCE(exchange,''), COALESCE(tags,'[]'), first_seen FROM wallets WHERE address=$1`,
		address).Scan(&w.Address, &w.Exchange, &w.Tags, &w.FirstSeen)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx Transaction) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (signature, slot, block_time, success, fee, event_count)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (signature) DO NOTHING`,
		tx.Signature, tx.Slot, tx.BlockTime, tx.Success, tx.Fee, tx.EventCount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) HasTransaction(ctx context.Context, signature string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM transactions WHERE signature=$1`, signature).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) InsertTransferEvent(ctx context.Context, ev TransferEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transfer_events
		(signature, event_index, slot, block_time, kind, instruction_index, inner_index, transfer_type,
		 from_wallet, to_wallet, mint, amount_raw, amount, from_token_account, to_token_account)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (signature, event_index) DO NOTHING`,
		ev.Signature, ev.EventIndex, ev.Slot, ev.BlockTime, ev.Kind, ev.InstructionIndex, ev.InnerIndex,
		ev.TransferType, ev.FromWallet, ev.ToWallet, ev.Mint, int64(ev.AmountRaw), ev.Amount,
		ev.FromTokenAccount, ev.ToTokenAccount)
	return err
}

func (s *PostgresStore) UpsertRelationship(ctx context.Context, from, to string, nativeDelta, tokenDelta float64, sig string, blockTime int64) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO relationship_signatures (from_wallet, to_wallet, signature)
		VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, from, to, sig)
	if err != nil {
		return err
	}
	countBump := int64(0)
	if tag.RowsAffected() > 0 {
		countBump = 1
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO wallet_relationships
		(from_wallet, to_wallet, native_amount_total, token_amount_total, transaction_count, first_seen, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (from_wallet, to_wallet) DO UPDATE SET
			native_amount_total = wallet_relationships.native_amount_total + EXCLUDED.native_amount_total,
			token_amount_total = wallet_relationships.token_amount_total + EXCLUDED.token_amount_total,
			transaction_count = wallet_relationships.transaction_count + $5,
			first_seen = LEAST(wallet_relationships.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(wallet_relationships.last_seen, EXCLUDED.last_seen)`,
		from, to, nativeDelta, tokenDelta, countBump, blockTime)
	return err
}

func (s *PostgresStore) GetRelationship(ctx context.Context, from, to string) (*WalletRelationship, error) {
	var r WalletRelationship
	err := s.pool.QueryRow(ctx, `
		SELECT from_wallet, to_wallet, native_amount_total, token_amount_total, transaction_count, first_seen, last_seen
		FROM wallet_relationships WHERE from_wallet=$1 AND to_wallet=$2`, from, to).
		Scan(&r.FromWallet, &r.ToWallet, &r.NativeTotal, &r.TokenTotal, &r.TxCount, &r.FirstSeen, &r.LastSeen)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetNeighbors(ctx context.Context, address string, dir Direction, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []Neighbor
	scan := func(query string, d Direction) error {
		rows, err := s.pool.Query(ctx, query, address, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var n Neighbor
			n.Direction = d
			if err := rows.Scan(&n.Rel.FromWallet, &n.Rel.ToWallet, &n.Rel.NativeTotal, &n.Rel.TokenTotal,
				&n.Rel.TxCount, &n.Rel.FirstSeen, &n.Rel.LastSeen); err != nil {
				continue
			}
			if d == DirectionOut {
				n.Address = n.Rel.ToWallet
			} else {
				n.Address = n.Rel.FromWallet
			}
			out = append(out, n)
		}
		return rows.Err()
	}
	if dir == DirectionOut || dir == DirectionBoth {
		if err := scan(`
			SELECT from_wallet, to_wallet, native_amount_total, token_amount_total, transaction_count, first_seen, last_seen
			FROM wallet_relationships WHERE from_wallet=$1
			ORDER BY transaction_count DESC, native_amount_total DESC LIMIT $2`, DirectionOut); err != nil {
			return nil, err
		}
	}
	if dir == DirectionIn || dir == DirectionBoth {
		if err := scan(`
			SELECT from_wallet, to_wallet, native_amount_total, token_amount_total, transaction_count, first_seen, last_seen
			FROM wallet_relationships WHERE to_wallet=$1
			ORDER BY transaction_count DESC, native_amount_total DESC LIMIT $2`, DirectionIn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) GetSharedInboundSenders(ctx context.Context, a, b string, since int64, limit int) ([]SharedSender, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT sa.sender, sa.cnt, sb.cnt, GREATEST(sa.last_bt, sb.last_bt)
		FROM (SELECT from_wallet AS sender, COUNT(*) AS cnt, MAX(block_time) AS last_bt
		      FROM transfer_events WHERE to_wallet=$1 AND from_wallet<>'' AND block_time>=$2
		      GROUP BY from_wallet) sa
		JOIN (SELECT from_wallet AS sender, COUNT(*) AS cnt, MAX(block_time) AS last_bt
		      FROM transfer_events WHERE to_wallet=$3 AND from_wallet<>'' AND block_time>=$2
		      GROUP BY from_wallet) sb
		  ON sa.sender = sb.sender
		WHERE sa.sender NOT IN ($1, $3)
		ORDER BY sa.cnt + sb.cnt DESC, sa.sender ASC
		LIMIT $4`, a, since, b, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SharedSender
	for rows.Next() {
		var ss SharedSender
		if err := rows.Scan(&ss.Address, &ss.EventsToA, &ss.EventsToB, &ss.LastSeenUnix); err != nil {
			continue
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTopCounterparties(ctx context.Context, address string, since int64, limit int) ([]Counterparty, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT to_wallet, COUNT(*), MAX(block_time)
		FROM transfer_events
		WHERE from_wallet=$1 AND to_wallet<>'' AND block_time>=$2
		GROUP BY to_wallet
		ORDER BY COUNT(*) DESC, to_wallet ASC
		LIMIT $3`, address, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Counterparty
	for rows.Next() {
		var cp Counterparty
		if err := rows.Scan(&cp.Address, &cp.EventCount, &cp.LastSeenUnix); err != nil {
			continue
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBehavioralProfile(ctx context.Context, address string, since int64) (*BehavioralProfile, error) {
	p := &BehavioralProfile{}
	var minBT, maxBT *int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT signature), MIN(block_time), MAX(block_time)
		FROM transfer_events WHERE (from_wallet=$1 OR to_wallet=$1) AND block_time>=$2`,
		address, since).Scan(&p.TxCount, &minBT, &maxBT)
	if err != nil {
		return nil, err
	}
	if p.TxCount == 0 {
		return p, nil
	}
	var nativeSum float64
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transfer_events WHERE kind='native' AND (from_wallet=$1 OR to_wallet=$1) AND block_time>=$2`,
		address, since).Scan(&nativeSum)
	if err != nil {
		return nil, err
	}
	p.AvgNativePerTx = nativeSum / float64(p.TxCount)

	var span int64
	if minBT != nil && maxBT != nil {
		span = *maxBT - *minBT
	}
	spanDays := float64(span) / 86400.0
	if spanDays < 1 {
		spanDays = 1
	}
	p.TxPerDay = float64(p.TxCount) / spanDays

	rows, err := s.pool.Query(ctx, `
		SELECT CAST(EXTRACT(HOUR FROM to_timestamp(block_time) AT TIME ZONE 'UTC') AS INT), COUNT(*)
		FROM transfer_events WHERE (from_wallet=$1 OR to_wallet=$1) AND block_time>=$2
		GROUP BY 1`, address, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 {
			p.HourHistogram[hour] = count
		}
	}
	return p, rows.Err()
}

func (s *PostgresStore) GetTemporalOverlap(ctx context.Context, a, b string, since int64, bucketSeconds int64) (*TemporalOverlap, error) {
	if bucketSeconds <= 0 {
		bucketSeconds = 300
	}
	ov := &TemporalOverlap{}
	// Transfers between the pair itself trivially co-occur; only
	// third-party activity counts toward overlap.
	const touchA = `(from_wallet=$1 OR to_wallet=$1)
			AND NOT ((from_wallet=$1 AND to_wallet=$2) OR (from_wallet=$2 AND to_wallet=$1))
			AND block_time>=$3`
	const touchB = `(from_wallet=$2 OR to_wallet=$2)
			AND NOT ((from_wallet=$1 AND to_wallet=$2) OR (from_wallet=$2 AND to_wallet=$1))
			AND block_time>=$3`
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT DISTINCT slot FROM transfer_events WHERE `+touchA+`
			INTERSECT
			SELECT DISTINCT slot FROM transfer_events WHERE `+touchB+`
		) shared_slots`, a, b, since).Scan(&ov.SameSlotCount)
	if err != nil {
		return nil, err
	}

	var bucketsA, bucketsB, shared int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT block_time/$4) FROM transfer_events WHERE `+touchA,
		a, b, since, bucketSeconds).Scan(&bucketsA); err != nil {
		return nil, err
	}
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT block_time/$4) FROM transfer_events WHERE `+touchB,
		a, b, since, bucketSeconds).Scan(&bucketsB); err != nil {
		return nil, err
	}
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT DISTINCT block_time/$4 AS bucket FROM transfer_events WHERE `+touchA+`
			INTERSECT
			SELECT DISTINCT block_time/$4 AS bucket FROM transfer_events WHERE `+touchB+`
		) shared_buckets`, a, b, since, bucketSeconds).Scan(&shared); err != nil {
		return nil, err
	}
	smaller := bucketsA
	if bucketsB < smaller {
		smaller = bucketsB
	}
	if smaller > 0 {
		ov.OverlapRatio = float64(shared) / float64(smaller)
	}
	return ov, nil
}

func (s *PostgresStore) CountTransferEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_events`).Scan(&n)
	return n, err
}

func (s *PostgresStore) Stats(ctx context.Context) (map[string]int64, error) {
	stats := map[string]int64{}
	for _, t := range []string{"wallets", "transactions", "transfer_events", "wallet_relationships"} {
		var count int64
		if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err == nil {
			stats[t] = count
		}
	}
	return stats, nil
}
