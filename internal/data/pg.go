package data

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"quant/internal/pit"
	"quant/internal/schema"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PGOption defines connection options for the Postgres market-data store.
type PGOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

// PGStore reads bars, symbols, and FX rates from Postgres. Prices are stored
// as fixed-point integers, so rows map straight onto the schema types.
type PGStore struct {
	opt PGOption
	db  *gorm.DB
}

// OpenPG connects to the market-data database.
func OpenPG(option PGOption) (*PGStore, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return &PGStore{opt: option, db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PGStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type barRecord struct {
	Ts       time.Time `gorm:"column:ts"`
	SymbolID uint32    `gorm:"column:symbol_id"`
	Open     int64     `gorm:"column:open"`
	High     int64     `gorm:"column:high"`
	Low      int64     `gorm:"column:low"`
	Close    int64     `gorm:"column:close"`
	Volume   int64     `gorm:"column:volume"`
}

func (barRecord) TableName() string { return "bars" }

type symbolRecord struct {
	SymbolID   uint32     `gorm:"column:symbol_id"`
	Ticker     string     `gorm:"column:ticker"`
	Exchange   string     `gorm:"column:exchange"`
	Currency   string     `gorm:"column:currency"`
	LotSize    int64      `gorm:"column:lot_size"`
	ActiveFrom time.Time  `gorm:"column:active_from"`
	ActiveTo   *time.Time `gorm:"column:active_to"`
}

func (symbolRecord) TableName() string { return "symbols" }

type fxRecord struct {
	Ts            time.Time `gorm:"column:ts"`
	BaseCurrency  string    `gorm:"column:base_currency"`
	QuoteCurrency string    `gorm:"column:quote_currency"`
	Rate          int64     `gorm:"column:rate"`
}

func (fxRecord) TableName() string { return "fx_rates" }

// Bars loads the bar history for the given window, sorted by
// (timestamp, symbol id).
func (s *PGStore) Bars(ctx context.Context, from, to time.Time) ([]pit.BarRow, error) {
	var records []barRecord
	err := s.db.WithContext(ctx).
		Where("ts >= ? AND ts < ?", from, to).
		Order("ts, symbol_id").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "query bars")
	}

	out := make([]pit.BarRow, 0, len(records))
	for _, r := range records {
		out = append(out, pit.BarRow{
			Ts:       r.Ts.UTC(),
			SymbolID: schema.SymbolID(r.SymbolID),
			Bar: schema.Bar{
				Open:   schema.Price(r.Open),
				High:   schema.Price(r.High),
				Low:    schema.Price(r.Low),
				Close:  schema.Price(r.Close),
				Volume: schema.Quantity(r.Volume),
			},
		})
	}
	return out, nil
}

// Symbols registers the full symbol master into the registry.
func (s *PGStore) Symbols(ctx context.Context, registry *schema.Registry) error {
	var records []symbolRecord
	err := s.db.WithContext(ctx).
		Order("symbol_id, active_from").
		Find(&records).Error
	if err != nil {
		return errors.Wrap(err, "query symbols")
	}
	for _, r := range records {
		rec := schema.SymbolRecord{
			SymbolID:   schema.SymbolID(r.SymbolID),
			Ticker:     r.Ticker,
			Exchange:   r.Exchange,
			Currency:   schema.Currency(r.Currency),
			LotSize:    schema.Quantity(r.LotSize),
			ActiveFrom: r.ActiveFrom.UTC(),
		}
		if r.ActiveTo != nil {
			rec.ActiveTo = r.ActiveTo.UTC()
		}
		if _, err := registry.Add(rec); err != nil {
			return errors.Wrapf(err, "register %s", r.Ticker)
		}
	}
	return nil
}

// FX loads the FX history for the given window, sorted by timestamp.
func (s *PGStore) FX(ctx context.Context, from, to time.Time) ([]pit.FXRow, error) {
	var records []fxRecord
	err := s.db.WithContext(ctx).
		Where("ts >= ? AND ts < ?", from, to).
		Order("ts, base_currency, quote_currency").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "query fx rates")
	}

	out := make([]pit.FXRow, 0, len(records))
	for _, r := range records {
		out = append(out, pit.FXRow{
			Ts:    r.Ts.UTC(),
			Base:  schema.Currency(r.BaseCurrency),
			Quote: schema.Currency(r.QuoteCurrency),
			Rate:  schema.Rate(r.Rate),
		})
	}
	return out, nil
}

func (opt PGOption) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
