package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/rules"
)

// RuleHandler 规则处理器
type RuleHandler struct {
	service *rules.Service
}

// NewRuleHandler 创建规则处理器
func NewRuleHandler(service *rules.Service) *RuleHandler {
	return &RuleHandler{service: service}
}

// ListRules 获取规则列表
func (h *RuleHandler) ListRules(c *gin.Context) {
	list := h.service.Store().List()
	successResponse(c, gin.H{
		"rules": list,
		"total": len(list),
	})
}

// GetRule 获取单个规则
func (h *RuleHandler) GetRule(c *gin.Context) {
	rule, err := h.service.Store().Get(c.Param("id"))
	if err != nil {
		ruleErrorResponse(c, err)
		return
	}
	successResponse(c, rule)
}

// CreateRule 创建规则
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var draft rules.Rule
	if err := c.ShouldBindJSON(&draft); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求体")
		return
	}
	rule, err := h.service.Store().Create(&draft)
	if err != nil {
		ruleErrorResponse(c, err)
		return
	}
	log.Info().Str("rule_id", rule.ID).Str("name", rule.Name).Msg("规则已创建")
	successResponseWithCode(c, http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	var patch rules.Rule
	if err := c.ShouldBindJSON(&patch); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求体")
		return
	}
	rule, err := h.service.Store().Update(c.Param("id"), &patch)
	if err != nil {
		ruleErrorResponse(c, err)
		return
	}
	log.Info().Str("rule_id", rule.ID).Msg("规则已更新")
	successResponse(c, rule)
}

// DeleteRule 删除规则
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Store().Delete(id); err != nil {
		ruleErrorResponse(c, err)
		return
	}
	log.Info().Str("rule_id", id).Msg("规则已删除")
	successResponse(c, gin.H{"id": id})
}

// SetEnabledRequest 启用/停用请求
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetRuleEnabled 启用或停用规则
func (h *RuleHandler) SetRuleEnabled(c *gin.Context) {
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求体")
		return
	}
	rule, err := h.service.Store().SetEnabled(c.Param("id"), *req.Enabled)
	if err != nil {
		ruleErrorResponse(c, err)
		return
	}
	successResponse(c, rule)
}

// ExportRules 导出全部规则。
// 导出件不含ID与时间戳，便于跨环境分享规则包。
func (h *RuleHandler) ExportRules(c *gin.Context) {
	entries := h.service.Store().ExportAll()
	successResponse(c, gin.H{
		"rules": entries,
		"total": len(entries),
	})
}

// ImportRequest 规则导入请求
type ImportRequest struct {
	Rules []rules.RuleExport `json:"rules" binding:"required"`
	// Replace 为true时先清空现有规则再导入
	Replace bool `json:"replace"`
}

// ImportRules 导入规则包。任一条目校验失败则整包拒绝。
func (h *RuleHandler) ImportRules(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求体")
		return
	}
	imported, err := h.service.Store().ImportAll(req.Rules, req.Replace)
	if err != nil {
		ruleErrorResponse(c, err)
		return
	}
	log.Info().Int("imported", imported).Bool("replace", req.Replace).Msg("规则导入完成")
	successResponse(c, gin.H{"imported": imported})
}

// StopDispatch 停止全部待执行动作（主播紧急停止按钮）
func (h *RuleHandler) StopDispatch(c *gin.Context) {
	cancelled := h.service.PendingCount()
	h.service.StopAll()
	log.Warn().Int("cancelled", cancelled).Msg("已停止全部待执行动作")
	successResponse(c, gin.H{"cancelled": cancelled})
}
