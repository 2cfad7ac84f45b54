package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// LDAPConfig LDAP 数据源配置（data_sources.config JSONB）
type LDAPConfig struct {
	URL          string `json:"url"` // ldap:// 或 ldaps://
	BindDN       string `json:"bind_dn"`
	BindPassword string `json:"bind_password"`
	BaseDN       string `json:"base_dn"`

	DeptFilter string `json:"dept_filter"` // 默认 (objectClass=organizationalUnit)
	UserFilter string `json:"user_filter"` // 默认 (objectClass=inetOrgPerson)

	UsernameAttr string `json:"username_attr"` // 默认 uid
	DisplayAttr  string `json:"display_attr"`  // 默认 cn
	EmailAttr    string `json:"email_attr"`    // 默认 mail
	PhoneAttr    string `json:"phone_attr"`    // 默认 telephoneNumber
	LeaderAttr   string `json:"leader_attr"`   // 默认 manager（DN值）
	GroupAttr    string `json:"group_attr"`    // 默认 memberOf（多值→额外部门归属）

	PageSize uint32 `json:"page_size"` // 默认 500
}

func (c *LDAPConfig) applyDefaults() {
	if c.DeptFilter == "" {
		c.DeptFilter = "(objectClass=organizationalUnit)"
	}
	if c.UserFilter == "" {
		c.UserFilter = "(objectClass=inetOrgPerson)"
	}
	if c.UsernameAttr == "" {
		c.UsernameAttr = "uid"
	}
	if c.DisplayAttr == "" {
		c.DisplayAttr = "cn"
	}
	if c.EmailAttr == "" {
		c.EmailAttr = "mail"
	}
	if c.PhoneAttr == "" {
		c.PhoneAttr = "telephoneNumber"
	}
	if c.LeaderAttr == "" {
		c.LeaderAttr = "manager"
	}
	if c.GroupAttr == "" {
		c.GroupAttr = "memberOf"
	}
	if c.PageSize == 0 {
		c.PageSize = 500
	}
}

// LDAPAdapter LDAP 目录源适配器（hierarchical 寻址：DN）
type LDAPAdapter struct {
	cfg    LDAPConfig
	logger *zap.Logger

	// 测试注入点：默认 ldap.DialURL
	dial func(url string) (ldapConn, error)
}

// ldapConn go-ldap 连接的最小子集（便于单测替换）
type ldapConn interface {
	Bind(username, password string) error
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Close() error
}

// NewLDAPAdapter 创建 LDAP 适配器
func NewLDAPAdapter(rawConfig json.RawMessage, logger *zap.Logger) (*LDAPAdapter, error) {
	var cfg LDAPConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("invalid ldap source config: %w", err)
	}
	if cfg.URL == "" || cfg.BaseDN == "" {
		return nil, fmt.Errorf("ldap source config requires url and base_dn")
	}
	cfg.applyDefaults()
	return &LDAPAdapter{
		cfg:    cfg,
		logger: logger,
		dial: func(url string) (ldapConn, error) {
			return ldap.DialURL(url)
		},
	}, nil
}

var _ Adapter = (*LDAPAdapter)(nil)

func (a *LDAPAdapter) AddressKind() AddressKind { return KindHierarchical }

func (a *LDAPAdapter) connect() (ldapConn, error) {
	conn, err := a.dial(a.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrFetchFailed, a.cfg.URL, err)
	}
	if a.cfg.BindDN != "" {
		if err := conn.Bind(a.cfg.BindDN, a.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: bind as %s: %v", ErrFetchFailed, a.cfg.BindDN, err)
		}
	}
	return conn, nil
}

// FetchDepartments 全量拉取 OU 条目
// 只携带 DN 和显示名，层级解析交给 hierarchical mapper
func (a *LDAPAdapter) FetchDepartments(ctx context.Context) ([]*RawDepartment, error) {
	conn, err := a.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		a.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		a.cfg.DeptFilter,
		[]string{"ou", "objectClass"},
		nil,
	)
	result, err := conn.SearchWithPaging(req, a.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: search departments: %v", ErrFetchFailed, err)
	}

	departments := make([]*RawDepartment, 0, len(result.Entries))
	for _, entry := range result.Entries {
		departments = append(departments, &RawDepartment{
			Name: entry.GetAttributeValue("ou"),
			DN:   entry.DN,
			Extras: map[string]string{
				"object_class": firstOrEmpty(entry.GetAttributeValues("objectClass")),
			},
		})
	}
	a.logger.Info("LDAP departments fetched",
		zap.String("base_dn", a.cfg.BaseDN),
		zap.Int("count", len(departments)),
	)
	return departments, nil
}

// FetchUsers 全量拉取用户条目
// 部门归属 = 用户所在容器 DN + memberOf 各 group DN（多值产生额外归属）
func (a *LDAPAdapter) FetchUsers(ctx context.Context) ([]*RawUser, error) {
	conn, err := a.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	attrs := []string{
		a.cfg.UsernameAttr, a.cfg.DisplayAttr, a.cfg.EmailAttr,
		a.cfg.PhoneAttr, a.cfg.LeaderAttr, a.cfg.GroupAttr,
	}
	req := ldap.NewSearchRequest(
		a.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		a.cfg.UserFilter,
		attrs,
		nil,
	)
	result, err := conn.SearchWithPaging(req, a.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: search users: %v", ErrFetchFailed, err)
	}

	users := make([]*RawUser, 0, len(result.Entries))
	for _, entry := range result.Entries {
		username := entry.GetAttributeValue(a.cfg.UsernameAttr)
		if username == "" {
			// username 缺失在映射阶段按记录级失败处理，这里保留原始条目
			username = entry.DN
		}
		user := &RawUser{
			ExternalCode: username,
			Properties: map[string]any{
				"username":     username,
				"display_name": entry.GetAttributeValue(a.cfg.DisplayAttr),
				"email":        entry.GetAttributeValue(a.cfg.EmailAttr),
				"phone":        entry.GetAttributeValue(a.cfg.PhoneAttr),
			},
		}
		// 容器即所属部门
		if parent := parentDN(entry.DN); parent != "" {
			user.DepartmentDNs = append(user.DepartmentDNs, parent)
		}
		// group 成员关系 → 额外部门归属
		for _, groupDN := range entry.GetAttributeValues(a.cfg.GroupAttr) {
			if groupDN != "" {
				user.DepartmentDNs = append(user.DepartmentDNs, groupDN)
			}
		}
		// manager DN 的第一个 RDN 值作为上级 external code
		if managerDN := entry.GetAttributeValue(a.cfg.LeaderAttr); managerDN != "" {
			if code := firstRDNValue(managerDN); code != "" {
				user.LeaderCodes = append(user.LeaderCodes, code)
			}
		}
		users = append(users, user)
	}
	a.logger.Info("LDAP users fetched",
		zap.String("base_dn", a.cfg.BaseDN),
		zap.Int("count", len(users)),
	)
	return users, nil
}

// TestConnection 连通性测试：各取一条样例记录
func (a *LDAPAdapter) TestConnection(ctx context.Context) *TestConnectionResult {
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

// parentDN 去掉第一个 RDN 得到容器 DN
func parentDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) < 2 {
		return ""
	}
	rest := &ldap.DN{RDNs: parsed.RDNs[1:]}
	return rest.String()
}

// firstRDNValue DN 第一个 RDN 的值（如 "uid=alice,ou=x" → "alice"）
func firstRDNValue(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return ""
	}
	return parsed.RDNs[0].Attributes[0].Value
}

func firstOrEmpty(values []string) string {
	if len(values) > 0 {
		return values[0]
	}
	return ""
}
