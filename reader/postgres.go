package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"fuelflow/config"
	"fuelflow/logger"
	"fuelflow/models"
)

// Message is a row of the telemetry table. Only the columns the pipeline
// reads or the importer writes are mapped.
type Message struct {
	MessageID  int64     `gorm:"column:message_id;primaryKey"`
	TrackID    int64     `gorm:"column:track_id"`
	TerminalID string    `gorm:"column:terminal_id;type:text;index"`
	Lat        float64   `gorm:"column:lat"`
	Lon        float64   `gorm:"column:lon"`
	Timestamp  int64     `gorm:"column:timestamp;type:integer;index"`
	Speed      *int      `gorm:"column:speed"`
	Ignition   *int      `gorm:"column:ignition"`
	Odometer   *int      `gorm:"column:odometer"`
	CanData    string    `gorm:"column:can_data;type:json"`
	Created    time.Time `gorm:"column:created;type:timestamp without time zone"`
}

func (Message) TableName() string { return "messages" }

// Calibration is one calibration record for a device port. Ports are named
// "<terminal>_<port>".
type Calibration struct {
	ID              int    `gorm:"column:id;primaryKey"`
	DeviceIDPort    string `gorm:"column:deviceid_port;type:text;index"`
	CalibratingData string `gorm:"column:calibrating_data;type:json"`
}

func (Calibration) TableName() string { return "calibrating" }

// OpenPostgres connects with the pool settings from cfg.
func OpenPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate creates or updates the telemetry and calibration tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&Message{}, &Calibration{})
}

// ImportCalibration upserts records by id and returns the affected row count.
func ImportCalibration(ctx context.Context, db *gorm.DB, records []Calibration) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"deviceid_port", "calibrating_data"}),
	}).CreateInBatches(records, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("import calibration: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PostgresStore reads telemetry from the messages and calibrating tables.
type PostgresStore struct {
	db         *gorm.DB
	fuelKey    string
	speedField string
	log        *logger.Log
}

func NewPostgresStore(db *gorm.DB, analysis config.AnalysisConfig) *PostgresStore {
	speed := analysis.SpeedSignal
	if speed == "" {
		speed = "speed"
	}
	return &PostgresStore{
		db:         db,
		fuelKey:    analysis.FuelSignal,
		speedField: speed,
		log:        logger.GetLogger(),
	}
}

func (s *PostgresStore) DeviceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Distinct("terminal_id").
		Order("terminal_id").
		Pluck("terminal_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return ids, nil
}

// CalibrationPoints pools the points of every port of the device.
func (s *PostgresStore) CalibrationPoints(ctx context.Context, deviceID string) ([]models.CalibrationPoint, error) {
	var rows []Calibration
	err := s.db.WithContext(ctx).
		Where("deviceid_port LIKE ?", portPattern(deviceID)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load calibration for %s: %w", deviceID, err)
	}

	points := make([]models.CalibrationPoint, 0)
	for _, row := range rows {
		parsed, err := ParseCalibrationData(row.CalibratingData)
		if err != nil {
			s.log.WithComponent("postgres_store").WithError(err).WithFields(logger.Fields{
				"device_port": row.DeviceIDPort,
				"id":          row.ID,
			}).Warn("skipping malformed calibration record")
			continue
		}
		points = append(points, parsed...)
	}
	return points, nil
}

// portPattern matches "<device>_<anything>" with LIKE wildcards in the
// device id escaped.
func portPattern(deviceID string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(deviceID) + `\_%`
}

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type sampleRow struct {
	Timestamp int64
	Value     *string
}

func (s *PostgresStore) Samples(ctx context.Context, deviceID string, signal models.Signal, from, to time.Time) ([]models.RawSample, error) {
	var (
		rows  []sampleRow
		query string
		args  []interface{}
	)
	switch signal {
	case models.SignalFuel:
		query = `SELECT timestamp, can_data->>? AS value FROM messages
			WHERE terminal_id = ? AND timestamp BETWEEN ? AND ? ORDER BY timestamp`
		args = []interface{}{s.fuelKey, deviceID, from.Unix(), to.Unix()}
	case models.SignalSpeed:
		if !columnName.MatchString(s.speedField) {
			return nil, fmt.Errorf("invalid speed column %q", s.speedField)
		}
		query = fmt.Sprintf(`SELECT timestamp, "%s"::text AS value FROM messages
			WHERE terminal_id = ? AND timestamp BETWEEN ? AND ? ORDER BY timestamp`, s.speedField)
		args = []interface{}{deviceID, from.Unix(), to.Unix()}
	default:
		return nil, fmt.Errorf("unknown signal %q", signal)
	}

	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s samples for %s: %w", signal, deviceID, err)
	}
	return toSamples(rows), nil
}

// toSamples drops null and non-numeric readings, keeping order.
func toSamples(rows []sampleRow) []models.RawSample {
	out := make([]models.RawSample, 0, len(rows))
	for _, r := range rows {
		if r.Value == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(*r.Value), 64)
		if err != nil {
			continue
		}
		out = append(out, models.RawSample{Timestamp: time.Unix(r.Timestamp, 0).UTC(), RawValue: v})
	}
	return out
}

// ParseCalibrationData decodes a calibrating_data JSON array. An empty or
// null document yields no points.
func ParseCalibrationData(data string) ([]models.CalibrationPoint, error) {
	data = strings.TrimSpace(data)
	if data == "" || data == "null" {
		return nil, nil
	}
	var points []models.CalibrationPoint
	if err := json.Unmarshal([]byte(data), &points); err != nil {
		return nil, fmt.Errorf("decode calibrating_data: %w", err)
	}
	return points, nil
}
