package internal

import "github.com/jackc/pgx/v5/pgtype"

// 房間容量與判定欄位數量為遊戲規則固定值
const (
	// MaxRoomMembers 單一房間人數上限（與歌曲無關，固定 4 人）
	MaxRoomMembers = 4

	// JudgeCount 判定種類數量（perfect / great / good / bad / miss）
	JudgeCount = 5
)

// LiveDifficulty 歌曲難度
//
// 加入房間時選定，之後不可變更。
type LiveDifficulty int

const (
	DifficultyNormal LiveDifficulty = 1 // 普通
	DifficultyHard   LiveDifficulty = 2 // 困難
)

// Valid 檢查難度值是否合法
func (d LiveDifficulty) Valid() bool {
	return d == DifficultyNormal || d == DifficultyHard
}

// RoomStatus 房間狀態
//
// 有限狀態機設計：
//
//	Waiting → LiveStart（房主觸發開始）
//	Waiting → Dissolved（房主離開）
//
// 狀態轉換規則：
//   - Waiting：初始狀態，接受加入
//   - LiveStart：演出進行中，不再接受加入
//   - Dissolved：終止狀態，房間不存在或僅供剩餘成員讀取
//
// 為什麼用封閉的整數列舉而非字串？
//   - 狀態轉換可被窮舉檢查（switch 沒有漏網之魚）
//   - 與資料表的 status 整數欄位一一對應
type RoomStatus int

const (
	StatusWaiting   RoomStatus = 1 // 等待成員加入
	StatusLiveStart RoomStatus = 2 // 演出進行中
	StatusDissolved RoomStatus = 3 // 已解散
)

// String 實現 fmt.Stringer
func (s RoomStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusLiveStart:
		return "live_start"
	case StatusDissolved:
		return "dissolved"
	default:
		return "unknown"
	}
}

// JoinRoomResult 加入房間的結果
//
// 容量與狀態衝突屬於可恢復情況，以型別化結果回報呼叫方
// 而非錯誤：呼叫方自行決定重新列出房間或放棄。
type JoinRoomResult int

const (
	JoinOk         JoinRoomResult = 1 // 加入成功
	JoinRoomFull   JoinRoomResult = 2 // 房間已滿
	JoinDisbanded  JoinRoomResult = 3 // 房間已解散
	JoinOtherError JoinRoomResult = 4 // 房間不存在或其他失敗
)

// String 實現 fmt.Stringer
func (r JoinRoomResult) String() string {
	switch r {
	case JoinOk:
		return "ok"
	case JoinRoomFull:
		return "room_full"
	case JoinDisbanded:
		return "disbanded"
	case JoinOtherError:
		return "other_error"
	default:
		return "unknown"
	}
}

// User 使用者
//
// Token 是認證密鑰，除了建立與查詢之外不對外序列化。
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	LeaderCardID int64  `json:"leader_card_id"`
	Token        string `json:"-"`
}

// Room 房間列
//
// MemberCount 是 members 資料列數量的快取鏡像，
// 不變式：MemberCount 恆等於該房間實際成員列數（0..4）。
// HostID 在狀態不是 Dissolved 時必為現任成員。
type Room struct {
	ID          int64
	LiveID      int64
	Status      RoomStatus
	HostID      int64
	MemberCount int
}

// Member 成員列（複合鍵 room_id + user_id）
//
// Score 與 Judges 在提交成績前為 NULL，用 pgtype 的 Valid
// 旗標表達「尚未提交」，不使用魔術數字哨兵。
type Member struct {
	RoomID     int64
	UserID     int64
	Difficulty LiveDifficulty
	Score      pgtype.Int8
	Judges     [JudgeCount]pgtype.Int8
}

// Submitted 成員是否已提交成績
func (m *Member) Submitted() bool {
	return m.Score.Valid
}

// RoomInfo 房間列表摘要
type RoomInfo struct {
	RoomID          int64 `json:"room_id"`
	LiveID          int64 `json:"live_id"`
	JoinedUserCount int   `json:"joined_user_count"`
	MaxUserCount    int   `json:"max_user_count"`
}

// RoomUser 等待畫面中的成員資訊
type RoomUser struct {
	UserID           int64          `json:"user_id"`
	Name             string         `json:"name"`
	LeaderCardID     int64          `json:"leader_card_id"`
	SelectDifficulty LiveDifficulty `json:"select_difficulty"`
	IsMe             bool           `json:"is_me"`
	IsHost           bool           `json:"is_host"`
}

// ResultUser 單一成員的演出結果
type ResultUser struct {
	UserID         int64             `json:"user_id"`
	JudgeCountList [JudgeCount]int64 `json:"judge_count_list"`
	Score          int64             `json:"score"`
}
