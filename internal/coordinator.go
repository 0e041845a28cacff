// Package internal 實現節奏遊戲的配對與連線協調服務
//
// 系統設計問題：
//
//	多個客戶端同時輪詢並修改同一個房間，如何讓房間生命週期
//	與成員狀態在併發下保持一致？
//
// 核心挑戰：
//  1. 容量競態：兩個玩家同時看到 member_count == 3，不能雙雙加入
//  2. 房主權限：只有房主能開始演出、房主離開即解散
//  3. 成績彙整：全員提交前不公開任何結果
//  4. 資源回收：最後一位成員離開時房間必須消失
//
// 設計方案：
//
//	✅ 無狀態請求處理（程序內不共享可變狀態）
//	✅ 共享 PostgreSQL 作為唯一序列化點
//	✅ 交易內 SELECT ... FOR UPDATE 鎖定房間列
//	✅ 封閉列舉表達狀態與結果碼
package internal

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RoomCoordinator 房間生命週期與成員狀態機
//
// 系統設計考量：
//
//  1. 為什麼不用程序內鎖（RWMutex）？
//     服務是無狀態多實例部署，任一實例都可能處理任一請求，
//     記憶體鎖無法跨實例序列化。唯一的共享點是資料庫，
//     因此序列化也交給資料庫。
//
//  2. 併發控制策略（列鎖 vs 樂觀重試）：
//     選擇 SELECT ... FOR UPDATE 列鎖：
//     - 容量檢查與成員寫入天然落在同一隔離邊界
//     - 衝突時排隊等待，不需要應用層重試迴圈
//     - 鎖粒度是單一房間列，不同房間互不阻塞
//
//  3. 寫入所有權：
//     Room.status 與 Room.member_count 只由這裡寫入；
//     members 列只經由 join / leave / end 三條路徑變動。
type RoomCoordinator struct {
	pool    *pgxpool.Pool
	rooms   RoomStore
	members MemberStore
	users   *UserDirectory
	events  *EventPublisher
	logger  *slog.Logger
}

// NewRoomCoordinator 創建房間協調器
//
// events 可為 nil（未設定 NATS 時事件發佈停用）。
func NewRoomCoordinator(pool *pgxpool.Pool, users *UserDirectory, events *EventPublisher, logger *slog.Logger) *RoomCoordinator {
	return &RoomCoordinator{
		pool:   pool,
		users:  users,
		events: events,
		logger: logger,
	}
}

// CreateRoom 創建房間並讓房主成為第一位成員
//
// 插入房間列與房主成員列在同一交易內完成，
// 回傳的 room_id 保證 member_count ≥ 1 且房主在席。
func (c *RoomCoordinator) CreateRoom(ctx context.Context, hostID, liveID int64, difficulty LiveDifficulty) (int64, error) {
	var roomID int64

	err := pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		id, err := c.rooms.Create(ctx, tx, liveID, hostID)
		if err != nil {
			return err
		}
		if err := c.members.Insert(ctx, tx, id, hostID, difficulty); err != nil {
			return err
		}
		if err := c.rooms.SetMemberCount(ctx, tx, id, 1); err != nil {
			return err
		}
		roomID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.logger.Info("room created",
		"room_id", roomID,
		"live_id", liveID,
		"host_id", hostID)

	c.publish(ctx, roomID, "created", map[string]any{
		"live_id": liveID,
		"host_id": hostID,
	})

	return roomID, nil
}

// JoinRoom 加入房間
//
// 競態策略（本子系統最重要的正確性保證）：
// 容量檢查與成員插入共享 GetForUpdate 取得的列鎖，
// 兩個併發加入者不可能都觀察到 member_count == 3 而雙雙成功。
func (c *RoomCoordinator) JoinRoom(ctx context.Context, roomID, userID int64, difficulty LiveDifficulty) (JoinRoomResult, error) {
	result := JoinOtherError

	err := pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		room, err := c.rooms.GetForUpdate(ctx, tx, roomID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				result = JoinOtherError
				return nil
			}
			return err
		}

		if room.MemberCount >= MaxRoomMembers {
			result = JoinRoomFull
			return nil
		}
		if room.Status != StatusWaiting {
			result = JoinDisbanded
			return nil
		}

		if err := c.members.Insert(ctx, tx, roomID, userID, difficulty); err != nil {
			return err
		}
		if err := c.rooms.SetMemberCount(ctx, tx, roomID, room.MemberCount+1); err != nil {
			return err
		}

		result = JoinOk
		return nil
	})
	if err != nil {
		// 重複加入會撞到 members 的複合主鍵
		if isUniqueViolation(err) {
			return JoinOtherError, nil
		}
		return JoinOtherError, err
	}

	if result == JoinOk {
		c.logger.Info("member joined",
			"room_id", roomID,
			"user_id", userID,
			"difficulty", difficulty)
	}

	return result, nil
}

// ListRooms 列出可加入的房間
//
// liveID == 0 為萬用字元。唯讀操作，單一查詢快照即可。
func (c *RoomCoordinator) ListRooms(ctx context.Context, liveID int64) ([]RoomInfo, error) {
	return c.rooms.ListJoinable(ctx, c.pool, liveID)
}

// WaitRoom 等待輪詢：回傳房間狀態與成員列表
//
// 客戶端在 Waiting 期間反覆呼叫。房間、成員列與公開檔案
// 在同一個 REPEATABLE READ 唯讀交易內讀取，三者來自同一份
// 快照：不會出現「狀態還是 Waiting、成員列裡卻沒有房主」
// 這種撕裂的中間狀態（房主離開的提交要嘛整個可見，
// 要嘛整個不可見）。
// 房間列已消失時回傳 Dissolved 與空列表，輪詢方據此收尾。
func (c *RoomCoordinator) WaitRoom(ctx context.Context, roomID, userID int64) (RoomStatus, []RoomUser, error) {
	var (
		status RoomStatus
		users  []RoomUser
	)

	err := pgx.BeginTxFunc(ctx, c.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		room, err := c.rooms.Get(ctx, tx, roomID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				status = StatusDissolved
				users = []RoomUser{}
				return nil
			}
			return err
		}

		members, err := c.members.ListByRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}

		users = make([]RoomUser, 0, len(members))
		for _, m := range members {
			profile, err := c.users.getProfile(ctx, tx, m.UserID)
			if err != nil {
				return err
			}
			users = append(users, RoomUser{
				UserID:           m.UserID,
				Name:             profile.Name,
				LeaderCardID:     profile.LeaderCardID,
				SelectDifficulty: m.Difficulty,
				IsMe:             m.UserID == userID,
				IsHost:           m.UserID == room.HostID,
			})
		}

		status = room.Status
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return status, users, nil
}

// StartMatch 開始演出（Waiting → LiveStart）
//
// 非房主呼叫是靜默 no-op 而非錯誤：真實客戶端只有房主
// 會送出 start，其餘成員靠輪詢 WaitRoom 得知狀態轉換。
// 重複呼叫冪等。
func (c *RoomCoordinator) StartMatch(ctx context.Context, roomID, userID int64) error {
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		room, err := c.rooms.GetForUpdate(ctx, tx, roomID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}

		if room.HostID != userID || room.Status != StatusWaiting {
			return nil
		}

		if err := c.rooms.SetStatus(ctx, tx, roomID, StatusLiveStart); err != nil {
			return err
		}

		c.logger.Info("live started", "room_id", roomID, "host_id", userID)
		c.publish(ctx, roomID, "live_start", nil)
		return nil
	})
}

// SubmitResult 提交成績與判定數
//
// 單一 UPDATE 即原子；成員列不存在（呼叫者未加入）時
// 受影響列數為 0，視為靜默 no-op，不做額外防衛驗證。
func (c *RoomCoordinator) SubmitResult(ctx context.Context, roomID, userID int64, judges [JudgeCount]int64, score int64) error {
	affected, err := c.members.SubmitScore(ctx, c.pool, roomID, userID, judges, score)
	if err != nil {
		return err
	}
	if affected == 0 {
		c.logger.Debug("score submit ignored, no member row",
			"room_id", roomID,
			"user_id", userID)
		return nil
	}

	c.logger.Info("score submitted",
		"room_id", roomID,
		"user_id", userID,
		"score", score)
	return nil
}

// CollectResults 彙整房間全員成績
//
// 全有或全無：任一成員尚未提交時回傳空序列，
// 結果畫面在全員到齊前不可見。
func (c *RoomCoordinator) CollectResults(ctx context.Context, roomID int64) ([]ResultUser, error) {
	members, err := c.members.ListByRoom(ctx, c.pool, roomID)
	if err != nil {
		return nil, err
	}

	results := make([]ResultUser, 0, len(members))
	for _, m := range members {
		if !m.Submitted() {
			return []ResultUser{}, nil
		}
		r := ResultUser{UserID: m.UserID, Score: m.Score.Int64}
		for i, j := range m.Judges {
			r.JudgeCountList[i] = j.Int64
		}
		results = append(results, r)
	}
	return results, nil
}

// LeaveRoom 離開房間
//
// 兩個獨立的觸發條件在同一交易內依序檢查，且可以同時成立：
//   - 房主離開 → status 設為 Dissolved（剩餘成員的房間變為惰性）
//   - 成員數歸零 → 刪除房間列（房間不復存在）
//
// 已解散但尚有成員的房間不再出現在列表、加入會得到
// Disbanded，直到自然清空。
func (c *RoomCoordinator) LeaveRoom(ctx context.Context, roomID, userID int64) error {
	var (
		dissolved bool
		deleted   bool
	)

	err := pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		room, err := c.rooms.GetForUpdate(ctx, tx, roomID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// 房間已消失：呼叫方才剛輪詢過，視為 no-op
				return nil
			}
			return err
		}

		if room.HostID == userID && room.Status != StatusDissolved {
			if err := c.rooms.SetStatus(ctx, tx, roomID, StatusDissolved); err != nil {
				return err
			}
			dissolved = true
		}

		if err := c.members.Delete(ctx, tx, roomID, userID); err != nil {
			return err
		}

		remaining, err := c.members.Count(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := c.rooms.Delete(ctx, tx, roomID); err != nil {
				return err
			}
			deleted = true
			return nil
		}
		return c.rooms.SetMemberCount(ctx, tx, roomID, remaining)
	})
	if err != nil {
		return err
	}

	c.logger.Info("member left",
		"room_id", roomID,
		"user_id", userID,
		"dissolved", dissolved,
		"deleted", deleted)

	if dissolved {
		c.publish(ctx, roomID, "dissolved", map[string]any{"host_id": userID})
	}
	if deleted {
		c.publish(ctx, roomID, "deleted", nil)
	}
	return nil
}

// publish 發佈房間生命週期事件（發佈失敗只記錄，不影響請求）
func (c *RoomCoordinator) publish(ctx context.Context, roomID int64, event string, data map[string]any) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, roomID, event, data); err != nil {
		c.logger.Warn("publish room event failed",
			"room_id", roomID,
			"event", event,
			"error", err)
	}
}
