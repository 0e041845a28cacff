// Package matchmaking 提供了一個節奏遊戲的配對與連線協調服務。
//
// 實現了一個多人對戰大廳服務器，包含以下核心功能：
//
// # 房間生命週期管理
//
// 以共享資料庫為唯一序列化點的房間狀態機：
//   - 房間創建與加入（容量固定 4 人）
//   - 房主權限控制（只有房主能開始演出）
//   - 房主離開即解散、清空即刪除
//   - 等待輪詢與成員列表同步
//
// # 成績彙整
//
// 每位成員提交分數與五段判定數（perfect / great / good / bad / miss），
// 全員提交完成前結果不公開。
//
// # 併發安全設計
//
// 服務是無狀態多實例部署，程序內不共享可變狀態：
//   - 交易內 SELECT ... FOR UPDATE 鎖定房間列
//   - 容量檢查與成員寫入在同一隔離邊界內
//   - 等待輪詢走 REPEATABLE READ 唯讀交易，讀到一致快照
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.yaml
package matchmaking
