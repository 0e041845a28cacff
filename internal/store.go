package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier 是 pgxpool.Pool 與 pgx.Tx 的共同子集
//
// 資料存取方法以 querier 為參數，同一份 SQL 既能跑在交易內
// 也能跑在連接池上，由呼叫方（協調器）決定隔離邊界。
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation 檢查是否為唯一鍵衝突（SQLSTATE 23505）
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RoomStore rooms 資料表的存取契約
//
// 擁有房間生命週期狀態（status / host / member_count）。
// 只有 RoomCoordinator 會呼叫這裡的寫入方法，其他元件一律唯讀。
type RoomStore struct{}

// Create 新增 Waiting 狀態的空房間，回傳伺服器配發的房間 ID
func (RoomStore) Create(ctx context.Context, q querier, liveID, hostID int64) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO rooms (live_id, status, host_id, member_count)
		 VALUES ($1, $2, $3, 0)
		 RETURNING id`,
		liveID, StatusWaiting, hostID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert room: %w", err)
	}
	return id, nil
}

// Get 讀取房間，不存在時回傳 pgx.ErrNoRows
func (RoomStore) Get(ctx context.Context, q querier, roomID int64) (*Room, error) {
	return scanRoom(q.QueryRow(ctx,
		`SELECT id, live_id, status, host_id, member_count
		 FROM rooms WHERE id = $1`,
		roomID,
	))
}

// GetForUpdate 讀取並鎖定房間列（SELECT ... FOR UPDATE）
//
// 這是容量不變式的核心機制：持有列鎖的交易完成前，
// 其他對同一房間的加入 / 離開交易會在這裡排隊，
// 容量檢查與成員寫入因此在同一隔離邊界內序列化。
func (RoomStore) GetForUpdate(ctx context.Context, q querier, roomID int64) (*Room, error) {
	return scanRoom(q.QueryRow(ctx,
		`SELECT id, live_id, status, host_id, member_count
		 FROM rooms WHERE id = $1
		 FOR UPDATE`,
		roomID,
	))
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	if err := row.Scan(&r.ID, &r.LiveID, &r.Status, &r.HostID, &r.MemberCount); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListJoinable 列出可加入的房間（Waiting 且未滿）
//
// liveID 為 0 時視為萬用字元，跨所有歌曲查詢。
func (RoomStore) ListJoinable(ctx context.Context, q querier, liveID int64) ([]RoomInfo, error) {
	const base = `SELECT id, live_id, member_count
		 FROM rooms
		 WHERE status = $1 AND member_count < $2`

	var (
		rows pgx.Rows
		err  error
	)
	if liveID == 0 {
		rows, err = q.Query(ctx, base+` ORDER BY id`, StatusWaiting, MaxRoomMembers)
	} else {
		rows, err = q.Query(ctx, base+` AND live_id = $3 ORDER BY id`, StatusWaiting, MaxRoomMembers, liveID)
	}
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	infos := []RoomInfo{}
	for rows.Next() {
		info := RoomInfo{MaxUserCount: MaxRoomMembers}
		if err := rows.Scan(&info.RoomID, &info.LiveID, &info.JoinedUserCount); err != nil {
			return nil, fmt.Errorf("scan room info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// SetStatus 更新房間狀態
func (RoomStore) SetStatus(ctx context.Context, q querier, roomID int64, status RoomStatus) error {
	if _, err := q.Exec(ctx,
		`UPDATE rooms SET status = $1 WHERE id = $2`, status, roomID); err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	return nil
}

// SetMemberCount 更新快取的成員數
func (RoomStore) SetMemberCount(ctx context.Context, q querier, roomID int64, count int) error {
	if _, err := q.Exec(ctx,
		`UPDATE rooms SET member_count = $1 WHERE id = $2`, count, roomID); err != nil {
		return fmt.Errorf("update member count: %w", err)
	}
	return nil
}

// Delete 刪除房間列（最後一位成員離開時）
func (RoomStore) Delete(ctx context.Context, q querier, roomID int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// MemberStore members 資料表的存取契約
//
// 成員列只會被 join / leave / end 三種操作寫入，
// 且一律經由 RoomCoordinator 的交易進入。
type MemberStore struct{}

// Insert 新增成員列，score 與判定欄位保持 NULL
func (MemberStore) Insert(ctx context.Context, q querier, roomID, userID int64, difficulty LiveDifficulty) error {
	if _, err := q.Exec(ctx,
		`INSERT INTO members (room_id, user_id, difficulty)
		 VALUES ($1, $2, $3)`,
		roomID, userID, difficulty,
	); err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// Delete 刪除成員列
func (MemberStore) Delete(ctx context.Context, q querier, roomID, userID int64) error {
	if _, err := q.Exec(ctx,
		`DELETE FROM members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// Count 回傳房間目前的實際成員列數
func (MemberStore) Count(ctx context.Context, q querier, roomID int64) (int, error) {
	var n int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM members WHERE room_id = $1`, roomID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// ListByRoom 依 user_id 順序列出房間全部成員
func (MemberStore) ListByRoom(ctx context.Context, q querier, roomID int64) ([]Member, error) {
	rows, err := q.Query(ctx,
		`SELECT room_id, user_id, difficulty, score, judge0, judge1, judge2, judge3, judge4
		 FROM members WHERE room_id = $1
		 ORDER BY user_id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(
			&m.RoomID, &m.UserID, &m.Difficulty, &m.Score,
			&m.Judges[0], &m.Judges[1], &m.Judges[2], &m.Judges[3], &m.Judges[4],
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// SubmitScore 寫入成績與判定數，回傳受影響的列數
//
// 受影響列數為 0 代表成員列不存在（呼叫者從未加入），
// 由協調器決定視為靜默 no-op。
func (MemberStore) SubmitScore(ctx context.Context, q querier, roomID, userID int64, judges [JudgeCount]int64, score int64) (int64, error) {
	tag, err := q.Exec(ctx,
		`UPDATE members
		 SET score = $1, judge0 = $2, judge1 = $3, judge2 = $4, judge3 = $5, judge4 = $6
		 WHERE room_id = $7 AND user_id = $8`,
		score, judges[0], judges[1], judges[2], judges[3], judges[4],
		roomID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("submit score: %w", err)
	}
	return tag.RowsAffected(), nil
}
