// Package auditmirror writes the agent's scans and decisions to a durable
// SQL database alongside the primary JSON state file (§4.8), so external
// BI/monitoring tooling can query history with plain SQL instead of
// parsing the state document.
package auditmirror

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"treasuryagent/pkg/types"
)

// PoolSnapshotRecord mirrors one types.PoolSnapshot row.
type PoolSnapshotRecord struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp           time.Time `gorm:"index;not null"`
	PoolID              string    `gorm:"column:pool_id;index;not null"`
	Pair                string    `gorm:"not null"`
	Protocol            string    `gorm:"not null"`
	TvlUsd              float64   `gorm:"not null"`
	IncentiveAprBps     int       `gorm:"not null"`
	NetApyBps           int       `gorm:"not null"`
	SlippageBps         int       `gorm:"not null"`
	RewardRatePerSecond float64   `gorm:"not null"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
}

func (PoolSnapshotRecord) TableName() string { return "pool_snapshots" }

// DecisionRecord mirrors one types.StoredDecision row.
type DecisionRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `gorm:"index;not null"`
	Action       string    `gorm:"not null"`
	ReasonCode   int       `gorm:"not null"`
	ChosenPoolID *string   `gorm:"column:chosen_pool_id"`
	FromPoolID   *string   `gorm:"column:from_pool_id"`
	Emergency    bool      `gorm:"not null"`
	TxHash       *string
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (DecisionRecord) TableName() string { return "decisions" }

// PositionRecord mirrors one point-in-time snapshot of the position state
// machine, appended on each tick whose execution produced an updated
// position rather than updated in place, so the table doubles as the
// position's own history.
type PositionRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp     time.Time `gorm:"index;not null"`
	PoolID        *string   `gorm:"column:pool_id"`
	Pair          *string
	Protocol      *string
	LPBalance     string  `gorm:"type:varchar(78);not null;comment:decimal as string"`
	LastNetApyBps int     `gorm:"not null"`
	ParkedToken   *string `gorm:"column:parked_token"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (PositionRecord) TableName() string { return "positions" }

// Mirror writes audit rows to a SQL database via GORM. It is a
// best-effort side channel: its errors are logged by callers, never
// propagated as a reason to block a tick, since the JSON state file
// (internal/store) is the agent's authoritative record.
type Mirror struct {
	db *gorm.DB
}

// NewMirror opens a MySQL connection and migrates the three audit tables.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMirror(dsn string) (*Mirror, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return NewMirrorWithDB(db)
}

// NewMirrorWithDB wraps an existing GORM DB handle, used by tests to
// inject a sqlmock-backed connection.
func NewMirrorWithDB(db *gorm.DB) (*Mirror, error) {
	if err := db.AutoMigrate(&PoolSnapshotRecord{}, &DecisionRecord{}, &PositionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Mirror{db: db}, nil
}

// RecordSnapshots inserts one row per scanned pool.
func (m *Mirror) RecordSnapshots(snapshots []types.PoolSnapshot) error {
	for _, s := range snapshots {
		record := PoolSnapshotRecord{
			Timestamp:           time.Unix(s.Timestamp, 0),
			PoolID:              s.PoolID,
			Pair:                s.Pair,
			Protocol:            s.Protocol,
			TvlUsd:              s.TvlUsd,
			IncentiveAprBps:     s.IncentiveAprBps,
			NetApyBps:           s.NetApyBps,
			SlippageBps:         s.SlippageBps,
			RewardRatePerSecond: s.RewardRatePerSecond,
		}
		if result := m.db.Create(&record); result.Error != nil {
			return fmt.Errorf("failed to record pool snapshot %s: %w", s.PoolID, result.Error)
		}
	}
	return nil
}

// RecordDecision inserts one decision row.
func (m *Mirror) RecordDecision(ts int64, d types.StoredDecision) error {
	record := DecisionRecord{
		Timestamp:    time.Unix(ts, 0),
		Action:       string(d.Action),
		ReasonCode:   int(d.ReasonCode),
		ChosenPoolID: d.ChosenPoolID,
		FromPoolID:   d.FromPoolID,
		Emergency:    d.Emergency,
		TxHash:       d.TxHash,
	}
	if result := m.db.Create(&record); result.Error != nil {
		return fmt.Errorf("failed to record decision: %w", result.Error)
	}
	return nil
}

// RecordPosition inserts one snapshot of the position state machine.
func (m *Mirror) RecordPosition(ts int64, p types.Position) error {
	record := PositionRecord{
		Timestamp:     time.Unix(ts, 0),
		PoolID:        p.PoolID,
		Pair:          p.Pair,
		Protocol:      p.Protocol,
		LPBalance:     p.LPBalance.String(),
		LastNetApyBps: p.LastNetApyBps,
		ParkedToken:   p.ParkedToken,
	}
	if result := m.db.Create(&record); result.Error != nil {
		return fmt.Errorf("failed to record position: %w", result.Error)
	}
	return nil
}

// Close releases the underlying SQL connection.
func (m *Mirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}
