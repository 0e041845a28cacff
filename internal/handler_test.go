package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-matchmaking/internal"
	"github.com/koopa0/system-design/14-matchmaking/internal/testutils"
)

// setupServer 啟動完整 HTTP 測試服務器
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	env := testutils.SetupTestEnvironment(t)
	users := internal.NewUserDirectory(env.Pool, env.RedisClient, env.Logger)
	coordinator := internal.NewRoomCoordinator(env.Pool, users, nil, env.Logger)
	handler := internal.NewHandler(coordinator, users, env.Logger)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return server
}

// postJSON 發送 JSON 請求並解碼響應
func postJSON(t *testing.T, server *httptest.Server, path, token string, body any) (int, map[string]json.RawMessage) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodPost, server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func rawInt64(t *testing.T, raw json.RawMessage) int64 {
	t.Helper()
	var v int64
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func rawString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var v string
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// createUserHTTP 走線上協定建立使用者，回傳 token
func createUserHTTP(t *testing.T, server *httptest.Server, name string) string {
	t.Helper()

	status, body := postJSON(t, server, "/user/create", "", map[string]any{
		"user_name":      name,
		"leader_card_id": 1000,
	})
	require.Equal(t, http.StatusOK, status)
	return rawString(t, body["user_token"])
}

// TestHandler_Authentication 測試 bearer token 認證邊界
func TestHandler_Authentication(t *testing.T) {
	server := setupServer(t)

	t.Run("missing token", func(t *testing.T) {
		status, _ := postJSON(t, server, "/room/create", "", map[string]any{
			"live_id": 1, "select_difficulty": 1,
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("unknown token", func(t *testing.T) {
		status, _ := postJSON(t, server, "/room/create", "bogus-token", map[string]any{
			"live_id": 1, "select_difficulty": 1,
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("valid token", func(t *testing.T) {
		token := createUserHTTP(t, server, "認證測試")

		req, err := http.NewRequestWithContext(context.Background(),
			http.MethodGet, server.URL+"/user/me", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var me struct {
			Name         string `json:"name"`
			LeaderCardID int64  `json:"leader_card_id"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
		assert.Equal(t, "認證測試", me.Name)
		assert.Equal(t, int64(1000), me.LeaderCardID)
	})
}

// TestHandler_Validation 測試傳輸層輸入驗證
func TestHandler_Validation(t *testing.T) {
	server := setupServer(t)
	token := createUserHTTP(t, server, "驗證測試")

	t.Run("empty user_name", func(t *testing.T) {
		status, _ := postJSON(t, server, "/user/create", "", map[string]any{
			"user_name": "",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("invalid difficulty", func(t *testing.T) {
		status, _ := postJSON(t, server, "/room/create", token, map[string]any{
			"live_id": 1, "select_difficulty": 3,
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("wrong judge count length", func(t *testing.T) {
		status, _ := postJSON(t, server, "/room/end", token, map[string]any{
			"room_id":          1,
			"judge_count_list": []int64{1, 2, 3},
			"score":            100,
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

// TestHandler_FullGameFlow 走完整遊戲流程的端對端測試
//
// 建立 → 加入 → 等待 → 開始 → 提交成績 → 結果 → 離開，
// 全部經由線上協定，驗證欄位名稱與結果碼。
func TestHandler_FullGameFlow(t *testing.T) {
	server := setupServer(t)

	hostToken := createUserHTTP(t, server, "流程房主")
	guestToken := createUserHTTP(t, server, "流程成員")

	// 創建房間
	status, body := postJSON(t, server, "/room/create", hostToken, map[string]any{
		"live_id": 11, "select_difficulty": 1,
	})
	require.Equal(t, http.StatusOK, status)
	roomID := rawInt64(t, body["room_id"])
	require.NotZero(t, roomID)

	// 房間出現在列表
	status, body = postJSON(t, server, "/room/list", "", map[string]any{"live_id": 11})
	require.Equal(t, http.StatusOK, status)

	var rooms []internal.RoomInfo
	require.NoError(t, json.Unmarshal(body["room_info_list"], &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, roomID, rooms[0].RoomID)
	assert.Equal(t, 1, rooms[0].JoinedUserCount)

	// 第二位玩家加入
	status, body = postJSON(t, server, "/room/join", guestToken, map[string]any{
		"room_id": roomID, "select_difficulty": 2,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(internal.JoinOk), rawInt64(t, body["join_room_result"]))

	// 等待輪詢看到兩位成員與正確旗標
	status, body = postJSON(t, server, "/room/wait", guestToken, map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(internal.StatusWaiting), rawInt64(t, body["status"]))

	var members []internal.RoomUser
	require.NoError(t, json.Unmarshal(body["room_user_list"], &members))
	require.Len(t, members, 2)
	for _, m := range members {
		if m.IsMe {
			assert.False(t, m.IsHost)
			assert.Equal(t, internal.DifficultyHard, m.SelectDifficulty)
		} else {
			assert.True(t, m.IsHost)
		}
	}

	// 房主開始演出
	status, _ = postJSON(t, server, "/room/start", hostToken, map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)

	status, body = postJSON(t, server, "/room/wait", hostToken, map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(internal.StatusLiveStart), rawInt64(t, body["status"]))

	// 一人提交 → 結果尚不可見
	status, _ = postJSON(t, server, "/room/end", hostToken, map[string]any{
		"room_id":          roomID,
		"judge_count_list": []int64{90, 8, 2, 0, 0},
		"score":            900000,
	})
	require.Equal(t, http.StatusOK, status)

	status, body = postJSON(t, server, "/room/result", "", map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)

	var results []internal.ResultUser
	require.NoError(t, json.Unmarshal(body["result_user_list"], &results))
	assert.Empty(t, results)

	// 全員提交 → 兩筆結果
	status, _ = postJSON(t, server, "/room/end", guestToken, map[string]any{
		"room_id":          roomID,
		"judge_count_list": []int64{70, 20, 7, 2, 1},
		"score":            750000,
	})
	require.Equal(t, http.StatusOK, status)

	status, body = postJSON(t, server, "/room/result", "", map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body["result_user_list"], &results))
	assert.Len(t, results, 2)

	// 成員離開後房主離開，房間消失
	status, _ = postJSON(t, server, "/room/leave", guestToken, map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)
	status, _ = postJSON(t, server, "/room/leave", hostToken, map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)

	status, body = postJSON(t, server, "/room/wait", hostToken, map[string]any{"room_id": roomID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(internal.StatusDissolved), rawInt64(t, body["status"]))
}

// TestHandler_UserUpdate 測試更新使用者走線上協定
func TestHandler_UserUpdate(t *testing.T) {
	server := setupServer(t)
	token := createUserHTTP(t, server, "更新前")

	status, _ := postJSON(t, server, "/user/update", token, map[string]any{
		"user_name":      "更新後",
		"leader_card_id": 5,
	})
	require.Equal(t, http.StatusOK, status)

	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodGet, server.URL+"/user/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var me struct {
		Name         string `json:"name"`
		LeaderCardID int64  `json:"leader_card_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "更新後", me.Name)
	assert.Equal(t, int64(5), me.LeaderCardID)
}

// TestHandler_Health 健康檢查不需認證
func TestHandler_Health(t *testing.T) {
	server := setupServer(t)

	resp, err := server.Client().Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
