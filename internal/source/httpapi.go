package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPConfig 通用 HTTP 目录源配置
// 对端暴露两个 JSON 端点，分页参数 page/size，返回空页表示结束
type HTTPConfig struct {
	BaseURL         string            `json:"base_url"`
	DepartmentsPath string            `json:"departments_path"` // 默认 /departments
	UsersPath       string            `json:"users_path"`       // 默认 /users
	Headers         map[string]string `json:"headers,omitempty"`
	PageSize        int               `json:"page_size"` // 默认 200
}

// httpDept 对端部门记录（adjacency 寻址）
type httpDept struct {
	Code       string            `json:"code"`
	Name       string            `json:"name"`
	ParentCode string            `json:"parent_code"`
	Extras     map[string]string `json:"extras,omitempty"`
}

// httpUser 对端用户记录
type httpUser struct {
	Code            string         `json:"code"`
	Properties      map[string]any `json:"properties"`
	LeaderCodes     []string       `json:"leader_codes,omitempty"`
	DepartmentCodes []string       `json:"department_codes,omitempty"`
}

// HTTPAdapter 通用 HTTP 目录源适配器
type HTTPAdapter struct {
	cfg        HTTPConfig
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPAdapter 创建通用 HTTP 适配器
func NewHTTPAdapter(rawConfig json.RawMessage, logger *zap.Logger) (*HTTPAdapter, error) {
	var cfg HTTPConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("invalid http source config: %w", err)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http source config requires base_url")
	}
	if cfg.DepartmentsPath == "" {
		cfg.DepartmentsPath = "/departments"
	}
	if cfg.UsersPath == "" {
		cfg.UsersPath = "/users"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}

	return &HTTPAdapter{cfg: cfg, httpClient: client, logger: logger}, nil
}

var _ Adapter = (*HTTPAdapter)(nil)

func (a *HTTPAdapter) AddressKind() AddressKind { return KindAdjacency }

// fetchPaged 逐页拉取直到返回空页
func (a *HTTPAdapter) fetchPaged(ctx context.Context, path string, handle func(body []byte) (int, error)) error {
	page := 1
	for {
		resp, err := a.httpClient.R().
			SetContext(ctx).
			SetQueryParam("page", fmt.Sprintf("%d", page)).
			SetQueryParam("size", fmt.Sprintf("%d", a.cfg.PageSize)).
			Get(path)
		if err != nil {
			return fmt.Errorf("%w: GET %s page %d: %v", ErrFetchFailed, path, page, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("%w: GET %s page %d: http %d", ErrFetchFailed, path, page, resp.StatusCode())
		}

		n, err := handle(resp.Body())
		if err != nil {
			return fmt.Errorf("%w: GET %s page %d: %v", ErrFetchFailed, path, page, err)
		}
		if n < a.cfg.PageSize {
			return nil
		}
		page++
	}
}

// FetchDepartments 全量拉取部门
func (a *HTTPAdapter) FetchDepartments(ctx context.Context) ([]*RawDepartment, error) {
	var departments []*RawDepartment
	err := a.fetchPaged(ctx, a.cfg.DepartmentsPath, func(body []byte) (int, error) {
		var page []httpDept
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, d := range page {
			departments = append(departments, &RawDepartment{
				ExternalCode: d.Code,
				Name:         d.Name,
				ParentCode:   d.ParentCode,
				Extras:       d.Extras,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("HTTP departments fetched",
		zap.String("base_url", a.cfg.BaseURL),
		zap.Int("count", len(departments)),
	)
	return departments, nil
}

// FetchUsers 全量拉取用户
func (a *HTTPAdapter) FetchUsers(ctx context.Context) ([]*RawUser, error) {
	var users []*RawUser
	err := a.fetchPaged(ctx, a.cfg.UsersPath, func(body []byte) (int, error) {
		var page []httpUser
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, err
		}
		for _, u := range page {
			users = append(users, &RawUser{
				ExternalCode:    u.Code,
				Properties:      u.Properties,
				LeaderCodes:     u.LeaderCodes,
				DepartmentCodes: u.DepartmentCodes,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("HTTP users fetched",
		zap.String("base_url", a.cfg.BaseURL),
		zap.Int("count", len(users)),
	)
	return users, nil
}

// TestConnection 连通性测试
func (a *HTTPAdapter) TestConnection(ctx context.Context) *TestConnectionResult {
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
