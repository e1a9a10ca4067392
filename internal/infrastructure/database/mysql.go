package database

import (
	"fmt"
	"log"
	"time"

	"rewardsystem/internal/config"
	"rewardsystem/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	err = db.AutoMigrate(
		&model.RewardRule{},
		&model.RewardLedgerEntry{},
		&model.RewardAllocation{},
		&model.RewardAccount{},
		&model.OutboxMessage{},
	)
	if err != nil {
		log.Fatalf("自动迁移表结构失败: %v", err)
	}

	seedDefaultRules(db)

	DB = db
	log.Println("MySQL 连接成功")
	return db
}

func intPtr(v int64) *int64 { return &v }

func floatPtr(v float64) *float64 { return &v }

// seedDefaultRules 规则表为空时写入默认规则集
func seedDefaultRules(db *gorm.DB) {
	var count int64
	if err := db.Model(&model.RewardRule{}).Count(&count).Error; err != nil {
		log.Fatalf("查询规则表失败: %v", err)
	}
	if count > 0 {
		return
	}

	rules := []model.RewardRule{
		{
			EventType:      "ride_completed",
			PointsPerEvent: 10,
			DailyCap:       intPtr(500),
			IsActive:       true,
			Priority:       1,
			Description:    "完成行程",
			Conditions: model.RuleConditions{
				Multipliers: []model.Multiplier{
					{Field: "vehicle_type", Equals: []string{"scooter", "bike"}, Factor: 1.2},
				},
			},
		},
		{
			EventType:      "parcel_delivered",
			PointsPerEvent: 15,
			DailyCap:       intPtr(300),
			IsActive:       true,
			Priority:       1,
			Description:    "完成配送",
		},
		{
			EventType:      "rental_completed",
			PointsPerEvent: 25,
			DailyCap:       intPtr(200),
			IsActive:       true,
			Priority:       1,
			Description:    "完成租赁",
			Conditions: model.RuleConditions{
				Multipliers: []model.Multiplier{
					{Field: "duration_hours", GTE: floatPtr(8), LT: floatPtr(24), Factor: 1.2},
					{Field: "duration_hours", GTE: floatPtr(24), Factor: 1.5},
				},
			},
		},
		{
			EventType:      "rental_on_time",
			PointsPerEvent: 10,
			IsActive:       true,
			Priority:       1,
			Description:    "按时归还",
		},
		{
			EventType:      "kyc_completed",
			PointsPerEvent: 100,
			IsActive:       true,
			Priority:       1,
			Description:    "实名认证通过",
		},
		{
			EventType:      "first_ride",
			PointsPerEvent: 50,
			IsActive:       true,
			Priority:       1,
			Description:    "首次行程",
		},
		{
			EventType:      "referral",
			PointsPerEvent: 200,
			IsActive:       true,
			Priority:       1,
			Description:    "邀请注册",
		},
		{
			EventType:      "review_submitted",
			PointsPerEvent: 5,
			DailyCap:       intPtr(25),
			IsActive:       true,
			Priority:       1,
			Description:    "提交评价",
		},
	}

	if err := db.Create(&rules).Error; err != nil {
		log.Fatalf("写入默认规则失败: %v", err)
	}
	log.Printf("已写入 %d 条默认积分规则", len(rules))
}
