package models

import "time"

// 定位能力（后端）
const (
	AbilityGnss    = "gnss"
	AbilityNetwork = "network"
	AbilityPassive = "passive"
)

// Abilities 参与请求聚合的全部能力
var Abilities = []string{AbilityGnss, AbilityNetwork, AbilityPassive}

// NLP 请求类型
const (
	NlpRequestTypeNormal   int32 = 0
	NlpRequestTypeAccuracy int32 = 1
)

// 定位权限
const (
	PermissionApproximately = "location.approximately"
	PermissionLocation      = "location.precise"
	PermissionBackground    = "location.background"
)

// Identity 当前 IPC 事务的调用方身份
type Identity struct {
	Uid         int32  `json:"uid"`
	Pid         int32  `json:"pid"`
	PackageName string `json:"package_name"`
	TokenID     uint32 `json:"token_id"`
}

// Aggregate 某个能力当前面向硬件的聚合请求
type Aggregate struct {
	Ability         string    `json:"ability"`
	RequesterCount  int       `json:"requester_count"`
	MinTimeInterval int32     `json:"min_time_interval"` // 秒，0 表示无请求
	HighAccuracy    bool      `json:"high_accuracy"`
	NlpRequestType  int32     `json:"nlp_request_type"`
	Added           int       `json:"added"`   // 本次新增的请求数
	Removed         int       `json:"removed"` // 本次移除的请求数
	UpdatedAt       time.Time `json:"updated_at"`
}

// 请求历史动作
const (
	ActionStart  = "start"
	ActionUpdate = "update"
	ActionStop   = "stop"
	ActionExpire = "expire"
	ActionClear  = "clear"
)

// RequestHistory 请求历史记录
type RequestHistory struct {
	ID             int64     `json:"id" db:"id"`
	Ability        string    `json:"ability" db:"ability"`
	Action         string    `json:"action" db:"action"`
	Uid            int32     `json:"uid" db:"uid"`
	Pid            int32     `json:"pid" db:"pid"`
	PackageName    string    `json:"package_name" db:"package_name"`
	UUID           string    `json:"uuid" db:"uuid"`
	TimeInterval   int32     `json:"time_interval" db:"time_interval"`
	NlpRequestType int32     `json:"nlp_request_type" db:"nlp_request_type"`
	RecordedAt     time.Time `json:"recorded_at" db:"recorded_at"`
}

// AggregateSnapshot 聚合结果快照
type AggregateSnapshot struct {
	ID              int64     `json:"id" db:"id"`
	Ability         string    `json:"ability" db:"ability"`
	RequesterCount  int       `json:"requester_count" db:"requester_count"`
	MinTimeInterval int32     `json:"min_time_interval" db:"min_time_interval"`
	HighAccuracy    bool      `json:"high_accuracy" db:"high_accuracy"`
	Record          string    `json:"record" db:"record"` // WorkRecord.String()
	RecordedAt      time.Time `json:"recorded_at" db:"recorded_at"`
}
