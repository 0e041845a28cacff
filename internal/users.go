package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// 使用者目錄的錯誤
var (
	// ErrUserNotFound token 或 ID 查無使用者
	ErrUserNotFound = errors.New("user not found")
)

// userCacheTTL token 快取的存活時間
//
// token 終身不變、name / leader_card_id 可變，
// 因此更新使用者時必須讓快取失效（見 UpdateUser）。
const userCacheTTL = 5 * time.Minute

// UserDirectory 使用者目錄
//
// 將不透明 bearer token 解析為使用者身份。對核心狀態機而言
// 這是外部協作者：房間協調器只透過公開查詢方法取得公開檔案。
//
// 系統設計考量：
//
//  1. 為什麼加 Redis 讀穿快取？
//     每個需要認證的請求都帶 token，等待輪詢期間查詢量
//     與輪詢頻率成正比；token → 使用者映射幾乎不變，
//     是典型的讀多寫少快取場景。
//
//  2. 快取失效策略：
//     UpdateUser 直接刪除 key（而非回寫新值），下次查詢時
//     重新載入。讀取與更新交錯時，讀方仍可能把更新前的列
//     回填快取，舊值最長存活一個 TTL；token 不可變，
//     殘留只影響顯示欄位（name / leader_card_id），可接受。
//
//  3. Redis 故障時退化為直接查資料庫，查詢仍然可用。
type UserDirectory struct {
	pool   *pgxpool.Pool
	cache  *redis.Client
	logger *slog.Logger
}

// NewUserDirectory 創建使用者目錄
//
// cache 可為 nil（未設定 Redis 時直接查資料庫）。
func NewUserDirectory(pool *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) *UserDirectory {
	return &UserDirectory{
		pool:   pool,
		cache:  cache,
		logger: logger,
	}
}

// CreateUser 建立使用者並回傳配發的 token
//
// token 以 UUIDv4 產生。碰撞會撞到 users.token 的唯一索引，
// 機率上可忽略但不在此自動重試，由呼叫方重送（已知邊界情況）。
func (d *UserDirectory) CreateUser(ctx context.Context, name string, leaderCardID int64) (string, error) {
	token := uuid.NewString()

	if _, err := d.pool.Exec(ctx,
		`INSERT INTO users (name, token, leader_card_id) VALUES ($1, $2, $3)`,
		name, token, leaderCardID,
	); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	d.logger.Info("user created", "name", name)
	return token, nil
}

// GetUserByToken 以 token 解析使用者（讀穿快取）
//
// 查無使用者時回傳 ErrUserNotFound，呼叫方轉為認證失敗。
func (d *UserDirectory) GetUserByToken(ctx context.Context, token string) (*User, error) {
	if u, ok := d.cacheGet(ctx, token); ok {
		return u, nil
	}

	var u User
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, leader_card_id FROM users WHERE token = $1`,
		token,
	).Scan(&u.ID, &u.Name, &u.LeaderCardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by token: %w", err)
	}
	u.Token = token

	d.cacheSet(ctx, token, &u)
	return &u, nil
}

// GetUserByID 以 ID 取得公開檔案
func (d *UserDirectory) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return d.getProfile(ctx, d.pool, id)
}

// getProfile 在指定的查詢來源上讀取公開檔案
//
// 等待畫面的成員扇出查詢走呼叫方的唯讀交易，
// 與房間、成員列讀取共享同一份快照。
func (d *UserDirectory) getProfile(ctx context.Context, q querier, id int64) (*User, error) {
	var u User
	err := q.QueryRow(ctx,
		`SELECT id, name, leader_card_id FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Name, &u.LeaderCardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// UpdateUser 更新使用者屬性（token 不可變）
func (d *UserDirectory) UpdateUser(ctx context.Context, token, name string, leaderCardID int64) error {
	if _, err := d.pool.Exec(ctx,
		`UPDATE users SET name = $1, leader_card_id = $2 WHERE token = $3`,
		name, leaderCardID, token,
	); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	// 讓舊快取失效，下次查詢重新載入
	d.cacheDel(ctx, token)
	return nil
}

func cacheKey(token string) string {
	return "user:token:" + token
}

func (d *UserDirectory) cacheGet(ctx context.Context, token string) (*User, bool) {
	if d.cache == nil {
		return nil, false
	}

	data, err := d.cache.Get(ctx, cacheKey(token)).Bytes()
	if err != nil {
		if err != redis.Nil {
			d.logger.Warn("user cache get failed", "error", err)
		}
		return nil, false
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, false
	}
	u.Token = token
	return &u, true
}

func (d *UserDirectory) cacheSet(ctx context.Context, token string, u *User) {
	if d.cache == nil {
		return
	}

	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, cacheKey(token), data, userCacheTTL).Err(); err != nil {
		d.logger.Warn("user cache set failed", "error", err)
	}
}

func (d *UserDirectory) cacheDel(ctx context.Context, token string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Del(ctx, cacheKey(token)).Err(); err != nil {
		d.logger.Warn("user cache del failed", "error", err)
	}
}
