package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

const mirrorBatchSize = 200

// Mirror 把最新快照同步到 MySQL 的 sale_records 表。
// 表内容每次整体替换，与快照文件保持一致。
type Mirror struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenMirror 连接 MySQL 并迁移表结构。
func OpenMirror(dsn string, logger *slog.Logger) (*Mirror, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&model.SaleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sale_records: %w", err)
	}
	return NewMirror(db, logger), nil
}

func NewMirror(db *gorm.DB, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, logger: logger}
}

// Replace 在一个事务内清空旧行并写入快照记录。
func (m *Mirror) Replace(ctx context.Context, snap model.Snapshot) error {
	rows := make([]model.SaleRecord, 0, len(snap.Records))
	for _, r := range snap.Records {
		rows = append(rows, model.SaleRecord{
			CatalogNumber: r.CatalogNumber,
			CanonicalName: r.CanonicalName,
			Title:         r.Title,
			PriceAmount:   r.PriceAmount,
			Currency:      r.Currency,
			SoldStatus:    string(r.SoldStatus),
			SourceURL:     r.SourceURL,
			Keyword:       r.Keyword,
			CapturedAt:    r.CapturedAt,
		})
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.SaleRecord{}).Error; err != nil {
			return fmt.Errorf("clear sale_records: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, mirrorBatchSize).Error; err != nil {
			return fmt.Errorf("insert sale_records: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("mysql mirror replaced", slog.Int("rows", len(rows)))
	return nil
}

func (m *Mirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
