package service

import (
	"errors"
	"sync"

	"github.com/langchou/locationd/internal/models"
)

// 请求错误
var (
	ErrUnknownAbility   = errors.New("unknown ability")
	ErrAbilityDisabled  = errors.New("ability disabled")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDuplicateRequest = errors.New("request already registered")
	ErrRequestNotFound  = errors.New("request not found")
	ErrTooManyRequests  = errors.New("too many active requests")
	ErrMockNotAllowed   = errors.New("mock location not allowed")
	ErrDispatchFailed   = errors.New("send work record")
)

// PermissionChecker 根据调用方 token 校验权限
type PermissionChecker interface {
	Check(tokenID uint32, permission string) bool
}

// StaticPermissionChecker 基于白名单的权限校验，白名单为空时全部允许
type StaticPermissionChecker struct {
	mu      sync.RWMutex
	allowed map[uint32]struct{}
	revoked map[uint32]map[string]struct{}
}

// NewStaticPermissionChecker 创建权限校验器
func NewStaticPermissionChecker(tokens []uint32) *StaticPermissionChecker {
	c := &StaticPermissionChecker{
		allowed: make(map[uint32]struct{}, len(tokens)),
		revoked: make(map[uint32]map[string]struct{}),
	}
	for _, t := range tokens {
		c.allowed[t] = struct{}{}
	}
	return c
}

// Check 校验 token 是否拥有权限
func (c *StaticPermissionChecker) Check(tokenID uint32, permission string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.allowed) > 0 {
		if _, ok := c.allowed[tokenID]; !ok {
			return false
		}
	}
	if perms, ok := c.revoked[tokenID]; ok {
		if _, revoked := perms[permission]; revoked {
			return false
		}
	}
	return true
}

// Revoke 撤销 token 的某项权限
func (c *StaticPermissionChecker) Revoke(tokenID uint32, permission string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	perms, ok := c.revoked[tokenID]
	if !ok {
		perms = make(map[string]struct{})
		c.revoked[tokenID] = perms
	}
	perms[permission] = struct{}{}
}

// requiredPermissions 不同能力所需的权限
func requiredPermissions(ability string) []string {
	if ability == models.AbilityGnss {
		return []string{models.PermissionApproximately, models.PermissionLocation}
	}
	return []string{models.PermissionApproximately}
}
