package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DingTalkConfig 钉钉数据源配置
type DingTalkConfig struct {
	BaseURL   string `json:"base_url"` // 默认 https://oapi.dingtalk.com
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
}

// DingTalkAdapter 钉钉通讯录适配器（adjacency 寻址：远端数值父ID）
type DingTalkAdapter struct {
	cfg        DingTalkConfig
	httpClient *resty.Client
	logger     *zap.Logger

	mu          sync.RWMutex
	accessToken string
	tokenExpiry time.Time
}

type dingTalkResponse struct {
	ErrCode int             `json:"errcode"`
	ErrMsg  string          `json:"errmsg"`
	Result  json.RawMessage `json:"result"`

	// gettoken 响应直接平铺
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type dingTalkDept struct {
	DeptID   int64  `json:"dept_id"`
	Name     string `json:"name"`
	ParentID int64  `json:"parent_id"`
}

type dingTalkUser struct {
	UserID     string  `json:"userid"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Mobile     string  `json:"mobile"`
	Title      string  `json:"title"`
	DeptIDList []int64 `json:"dept_id_list"`
	ManagerID  string  `json:"manager_userid"`
}

// NewDingTalkAdapter 创建钉钉适配器
func NewDingTalkAdapter(rawConfig json.RawMessage, logger *zap.Logger) (*DingTalkAdapter, error) {
	var cfg DingTalkConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("invalid dingtalk source config: %w", err)
	}
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("dingtalk source config requires app_key and app_secret")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://oapi.dingtalk.com"
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &DingTalkAdapter{cfg: cfg, httpClient: client, logger: logger}, nil
}

var _ Adapter = (*DingTalkAdapter)(nil)

func (a *DingTalkAdapter) AddressKind() AddressKind { return KindAdjacency }

// token 获取 access_token（带本地缓存，提前2分钟过期）
func (a *DingTalkAdapter) token(ctx context.Context) (string, error) {
	a.mu.RLock()
	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		token := a.accessToken
		a.mu.RUnlock()
		return token, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	var response dingTalkResponse
	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetQueryParam("appkey", a.cfg.AppKey).
		SetQueryParam("appsecret", a.cfg.AppSecret).
		SetResult(&response).
		Get("/gettoken")
	if err != nil {
		return "", fmt.Errorf("%w: gettoken: %v", ErrFetchFailed, err)
	}
	if response.ErrCode != 0 || response.AccessToken == "" {
		return "", fmt.Errorf("%w: gettoken: %s (errcode %d, http %d)",
			ErrFetchFailed, response.ErrMsg, response.ErrCode, resp.StatusCode())
	}

	a.accessToken = response.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(response.ExpiresIn)*time.Second - 2*time.Minute)
	return a.accessToken, nil
}

func (a *DingTalkAdapter) post(ctx context.Context, path string, body map[string]any, out any) error {
	token, err := a.token(ctx)
	if err != nil {
		return err
	}

	var response dingTalkResponse
	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetBody(body).
		SetResult(&response).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFetchFailed, path, err)
	}
	if response.ErrCode != 0 {
		return fmt.Errorf("%w: %s: %s (errcode %d, http %d)",
			ErrFetchFailed, path, response.ErrMsg, response.ErrCode, resp.StatusCode())
	}
	if out != nil {
		if err := json.Unmarshal(response.Result, out); err != nil {
			return fmt.Errorf("%w: %s: unmarshal result: %v", ErrFetchFailed, path, err)
		}
	}
	return nil
}

// FetchDepartments 从根部门(dept_id=1)开始逐层列举子部门
// external code 为远端数值ID的十进制串；父子关系交给 adjacency mapper 接线
func (a *DingTalkAdapter) FetchDepartments(ctx context.Context) ([]*RawDepartment, error) {
	var departments []*RawDepartment
	queue := []int64{1}
	seen := map[int64]bool{1: true}

	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]

		var page []dingTalkDept
		err := a.post(ctx, "/topapi/v2/department/listsub", map[string]any{"dept_id": parentID}, &page)
		if err != nil {
			return nil, err
		}
		for _, d := range page {
			if seen[d.DeptID] {
				continue
			}
			seen[d.DeptID] = true

			raw := &RawDepartment{
				ExternalCode: strconv.FormatInt(d.DeptID, 10),
				Name:         d.Name,
			}
			// 根部门(1)的直接子级作为本地根
			if d.ParentID > 1 {
				raw.ParentCode = strconv.FormatInt(d.ParentID, 10)
			}
			departments = append(departments, raw)
			queue = append(queue, d.DeptID)
		}
	}

	a.logger.Info("DingTalk departments fetched", zap.Int("count", len(departments)))
	return departments, nil
}

// FetchUsers 按部门分页列举用户；同一用户出现在多个部门时合并为多归属
func (a *DingTalkAdapter) FetchUsers(ctx context.Context) ([]*RawUser, error) {
	departments, err := a.FetchDepartments(ctx)
	if err != nil {
		return nil, err
	}

	deptIDs := []int64{1}
	for _, d := range departments {
		id, err := strconv.ParseInt(d.ExternalCode, 10, 64)
		if err == nil {
			deptIDs = append(deptIDs, id)
		}
	}

	byCode := map[string]*RawUser{}
	var order []string
	for _, deptID := range deptIDs {
		cursor := int64(0)
		for {
			var page struct {
				HasMore    bool           `json:"has_more"`
				NextCursor int64          `json:"next_cursor"`
				List       []dingTalkUser `json:"list"`
			}
			err := a.post(ctx, "/topapi/v2/user/list", map[string]any{
				"dept_id": deptID,
				"cursor":  cursor,
				"size":    100,
			}, &page)
			if err != nil {
				return nil, err
			}

			for _, u := range page.List {
				user, ok := byCode[u.UserID]
				if !ok {
					user = &RawUser{
						ExternalCode: u.UserID,
						Properties: map[string]any{
							"username":     u.UserID,
							"display_name": u.Name,
							"email":        u.Email,
							"phone":        u.Mobile,
							"title":        u.Title,
						},
					}
					if u.ManagerID != "" {
						user.LeaderCodes = append(user.LeaderCodes, u.ManagerID)
					}
					byCode[u.UserID] = user
					order = append(order, u.UserID)
				}
				for _, did := range u.DeptIDList {
					if did > 1 {
						user.DepartmentCodes = appendUnique(user.DepartmentCodes, strconv.FormatInt(did, 10))
					}
				}
			}

			if !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}
	}

	users := make([]*RawUser, 0, len(order))
	for _, code := range order {
		users = append(users, byCode[code])
	}
	a.logger.Info("DingTalk users fetched", zap.Int("count", len(users)))
	return users, nil
}

// TestConnection 连通性测试
func (a *DingTalkAdapter) TestConnection(ctx context.Context) *TestConnectionResult {
	departments, err := a.FetchDepartments(ctx)
	if err != nil {
		return &TestConnectionResult{ErrorMessage: err.Error()}
	}
	users, err := a.FetchUsers(ctx)
	if err != nil {
		return &TestConnectionResult{ErrorMessage: err.Error()}
	}
	result := &TestConnectionResult{OK: true}
	if len(departments) > 0 {
		result.SampleDepartment = departments[0]
	}
	if len(users) > 0 {
		result.SampleUser = users[0]
	}
	return result
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
