package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Handler HTTP 請求處理器
//
// 薄傳輸層：把線上請求翻譯成協調器操作，自己不帶任何
// 房間邏輯。欄位名稱沿用客戶端既有協定
// （room_id / live_id / select_difficulty / judge_count_list ...）。
type Handler struct {
	coordinator *RoomCoordinator
	users       *UserDirectory
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(coordinator *RoomCoordinator, users *UserDirectory, logger *slog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		users:       users,
		logger:      logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：panic 恢復 → 請求日誌；認證在需要的端點另外包
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}
	auth := func(handler authedHandlerFunc) http.HandlerFunc {
		return wrap(h.authenticate(handler))
	}

	// 使用者 API
	mux.HandleFunc("POST /user/create", wrap(h.userCreate))
	mux.HandleFunc("GET /user/me", auth(h.userMe))
	mux.HandleFunc("POST /user/update", auth(h.userUpdate))

	// 房間 API
	mux.HandleFunc("POST /room/create", auth(h.roomCreate))
	mux.HandleFunc("POST /room/list", wrap(h.roomList))
	mux.HandleFunc("POST /room/join", auth(h.roomJoin))
	mux.HandleFunc("POST /room/wait", auth(h.roomWait))
	mux.HandleFunc("POST /room/start", auth(h.roomStart))
	mux.HandleFunc("POST /room/end", auth(h.roomEnd))
	mux.HandleFunc("POST /room/result", wrap(h.roomResult))
	mux.HandleFunc("POST /room/leave", auth(h.roomLeave))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))

	return mux
}

// authedHandlerFunc 已通過認證的處理函數，帶解析後的使用者
type authedHandlerFunc func(w http.ResponseWriter, r *http.Request, user *User)

// authenticate bearer token 認證中間件
//
// token 解析失敗的請求在這裡終結，不會觸及協調器。
func (h *Handler) authenticate(next authedHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.errorResponse(w, "invalid credential", http.StatusUnauthorized)
			return
		}

		user, err := h.users.GetUserByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				h.errorResponse(w, "invalid credential", http.StatusUnauthorized)
				return
			}
			h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			return
		}

		next(w, r, user)
	}
}

// 請求結構

type userCreateRequest struct {
	UserName     string `json:"user_name"`
	LeaderCardID int64  `json:"leader_card_id"`
}

type roomCreateRequest struct {
	LiveID           int64          `json:"live_id"`
	SelectDifficulty LiveDifficulty `json:"select_difficulty"`
}

type roomListRequest struct {
	LiveID int64 `json:"live_id"`
}

type roomJoinRequest struct {
	RoomID           int64          `json:"room_id"`
	SelectDifficulty LiveDifficulty `json:"select_difficulty"`
}

type roomIDRequest struct {
	RoomID int64 `json:"room_id"`
}

type roomEndRequest struct {
	RoomID         int64   `json:"room_id"`
	JudgeCountList []int64 `json:"judge_count_list"`
	Score          int64   `json:"score"`
}

// userCreate 新規使用者建立，回傳 token
func (h *Handler) userCreate(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserName == "" {
		h.errorResponse(w, "user_name is required", http.StatusBadRequest)
		return
	}

	token, err := h.users.CreateUser(r.Context(), req.UserName, req.LeaderCardID)
	if err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{"user_token": token}, http.StatusOK)
}

// userMe 回傳自己的公開檔案
func (h *Handler) userMe(w http.ResponseWriter, r *http.Request, user *User) {
	h.jsonResponse(w, map[string]any{
		"id":             user.ID,
		"name":           user.Name,
		"leader_card_id": user.LeaderCardID,
	}, http.StatusOK)
}

// userUpdate 更新使用者屬性
func (h *Handler) userUpdate(w http.ResponseWriter, r *http.Request, user *User) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.users.UpdateUser(r.Context(), user.Token, req.UserName, req.LeaderCardID); err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{}, http.StatusOK)
}

// roomCreate 創建房間
func (h *Handler) roomCreate(w http.ResponseWriter, r *http.Request, user *User) {
	var req roomCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.SelectDifficulty.Valid() {
		h.errorResponse(w, "invalid difficulty", http.StatusBadRequest)
		return
	}

	roomID, err := h.coordinator.CreateRoom(r.Context(), user.ID, req.LiveID, req.SelectDifficulty)
	if err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{"room_id": roomID}, http.StatusOK)
}

// roomList 列出可加入的房間
func (h *Handler) roomList(w http.ResponseWriter, r *http.Request) {
	var req roomListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rooms, err := h.coordinator.ListRooms(r.Context(), req.LiveID)
	if err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{"room_info_list": rooms}, http.StatusOK)
}

// roomJoin 加入房間
func (h *Handler) roomJoin(w http.ResponseWriter, r *http.Request, user *User) {
	var req roomJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.SelectDifficulty.Valid() {
		h.errorResponse(w, "invalid difficulty", http.StatusBadRequest)
		return
	}

	result, err := h.coordinator.JoinRoom(r.Context(), req.RoomID, user.ID, req.SelectDifficulty)
	if err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{"join_room_result": result}, http.StatusOK)
}

// roomWait 等待輪詢
func (h *Handler) roomWait(w http.ResponseWriter, r *http.Request, user *User) {
	var req roomIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	status, members, err := h.coordinator.WaitRoom(r.Context(), req.RoomID, user.ID)
	if err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"status":         status,
		"room_user_list": members,
	}, http.StatusOK)
}

// roomStart 房主開始演出
func (h *Handler) roomStart(w http.ResponseWriter, r *http.Request, user *User) {
	var req roomIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.StartMatch(r.Context(), req.RoomID, user.ID); err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{}, http.StatusOK)
}

// roomEnd 提交成績
func (h *Handler) roomEnd(w http.ResponseWriter, r *http.Request, user *User) {
	var req roomEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.JudgeCountList) != JudgeCount {
		h.errorResponse(w, "judge_count_list must have 5 entries", http.StatusBadRequest)
		return
	}

	var judges [JudgeCount]int64
	copy(judges[:], req.JudgeCountList)

	if err := h.coordinator.SubmitResult(r.Context(), req.RoomID, user.ID, judges, req.Score); err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{}, http.StatusOK)
}

// roomResult 取得全員成績
func (h *Handler) roomResult(w http.ResponseWriter, r *http.Request) {
	var req roomIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	results, err := h.coordinator.CollectResults(r.Context(), req.RoomID)
	if err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{"result_user_list": results}, http.StatusOK)
}

// roomLeave 離開房間
func (h *Handler) roomLeave(w http.ResponseWriter, r *http.Request, user *User) {
	var req roomIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.coordinator.LeaveRoom(r.Context(), req.RoomID, user.ID); err != nil {
		h.errorResponse(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json failed", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic while handling request",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
