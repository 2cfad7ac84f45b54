package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// 导入模板固定表头；其后的任意额外列按自定义字段透传
var ExcelImportHeader = []string{
	"Username",
	"Display Name",
	"Email",
	"Phone",
	"Department Path",
	"Leader",
}

// ExcelConfig 表格导入源配置
type ExcelConfig struct {
	FilePath      string `json:"file_path"`
	SheetName     string `json:"sheet_name"`     // 默认第一个工作表
	PathSeparator string `json:"path_separator"` // 默认 "/"
}

// ExcelAdapter 表格导入源适配器（flatpath 寻址："A/B/C" 路径列）
// 一行一个用户；部门集合从 Department Path 列去重派生
type ExcelAdapter struct {
	cfg     ExcelConfig
	content []byte // 非空时优先于 FilePath（上传场景）
	logger  *zap.Logger
}

// NewExcelAdapter 创建表格导入适配器（从配置的文件路径读取）
func NewExcelAdapter(rawConfig json.RawMessage, logger *zap.Logger) (*ExcelAdapter, error) {
	var cfg ExcelConfig
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("invalid excel source config: %w", err)
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("excel source config requires file_path")
	}
	if cfg.PathSeparator == "" {
		cfg.PathSeparator = "/"
	}
	return &ExcelAdapter{cfg: cfg, logger: logger}, nil
}

// NewExcelAdapterFromBytes 从内存内容创建（文件上传触发的导入）
func NewExcelAdapterFromBytes(content []byte, sheetName string, logger *zap.Logger) *ExcelAdapter {
	return &ExcelAdapter{
		cfg:     ExcelConfig{SheetName: sheetName, PathSeparator: "/"},
		content: content,
		logger:  logger,
	}
}

var _ Adapter = (*ExcelAdapter)(nil)

func (a *ExcelAdapter) AddressKind() AddressKind { return KindFlatPath }

func (a *ExcelAdapter) open() (*excelize.File, error) {
	if len(a.content) > 0 {
		f, err := excelize.OpenReader(bytes.NewReader(a.content))
		if err != nil {
			return nil, fmt.Errorf("%w: open workbook: %v", ErrFetchFailed, err)
		}
		return f, nil
	}
	if _, err := os.Stat(a.cfg.FilePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	f, err := excelize.OpenFile(a.cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrFetchFailed, a.cfg.FilePath, err)
	}
	return f, nil
}

// rows 读取数据行（首行为表头）；返回列名索引和数据行
func (a *ExcelAdapter) rows() ([]string, [][]string, error) {
	f, err := a.open()
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheet := a.cfg.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read sheet %q: %v", ErrFetchFailed, sheet, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%w: sheet %q is empty", ErrFetchFailed, sheet)
	}
	return all[0], all[1:], nil
}

// FetchDepartments 从 Department Path 列去重派生部门
// external code 在映射阶段由路径哈希派生，同一路径多行自然合并
func (a *ExcelAdapter) FetchDepartments(ctx context.Context) ([]*RawDepartment, error) {
	header, dataRows, err := a.rows()
	if err != nil {
		return nil, err
	}
	pathCol := columnIndex(header, "Department Path")
	if pathCol < 0 {
		return nil, fmt.Errorf("%w: missing %q column", ErrFetchFailed, "Department Path")
	}

	seen := map[string]bool{}
	var departments []*RawDepartment
	for _, row := range dataRows {
		path := strings.TrimSpace(cell(row, pathCol))
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		segments := strings.Split(path, a.cfg.PathSeparator)
		departments = append(departments, &RawDepartment{
			Name: strings.TrimSpace(segments[len(segments)-1]),
			Path: path,
		})
	}
	a.logger.Info("Excel departments derived", zap.Int("count", len(departments)))
	return departments, nil
}

// FetchUsers 一行一个用户；固定列之外的表头作为自定义属性透传
func (a *ExcelAdapter) FetchUsers(ctx context.Context) ([]*RawUser, error) {
	header, dataRows, err := a.rows()
	if err != nil {
		return nil, err
	}
	usernameCol := columnIndex(header, "Username")
	if usernameCol < 0 {
		return nil, fmt.Errorf("%w: missing %q column", ErrFetchFailed, "Username")
	}
	displayCol := columnIndex(header, "Display Name")
	emailCol := columnIndex(header, "Email")
	phoneCol := columnIndex(header, "Phone")
	pathCol := columnIndex(header, "Department Path")
	leaderCol := columnIndex(header, "Leader")

	fixed := map[int]bool{usernameCol: true, displayCol: true, emailCol: true, phoneCol: true, pathCol: true, leaderCol: true}

	var users []*RawUser
	for _, row := range dataRows {
		username := strings.TrimSpace(cell(row, usernameCol))
		if username == "" {
			continue // 空行
		}
		user := &RawUser{
			ExternalCode: username,
			Properties: map[string]any{
				"username":     username,
				"display_name": strings.TrimSpace(cell(row, displayCol)),
				"email":        strings.TrimSpace(cell(row, emailCol)),
				"phone":        strings.TrimSpace(cell(row, phoneCol)),
			},
		}
		if path := strings.TrimSpace(cell(row, pathCol)); path != "" {
			user.DepartmentPaths = append(user.DepartmentPaths, path)
		}
		if leader := strings.TrimSpace(cell(row, leaderCol)); leader != "" {
			user.LeaderCodes = append(user.LeaderCodes, leader)
		}
		// 额外列 → 自定义属性（表头小写下划线化作为字段 key）
		for col, name := range header {
			if fixed[col] || strings.TrimSpace(name) == "" {
				continue
			}
			if v := strings.TrimSpace(cell(row, col)); v != "" {
				user.Properties[propertyKey(name)] = v
			}
		}
		users = append(users, user)
	}
	a.logger.Info("Excel users parsed", zap.Int("count", len(users)))
	return users, nil
}

// TestConnection 对表格源即"文件可打开且表头合法"
func (a *ExcelAdapter) TestConnection(ctx context.Context) *TestConnectionResult {
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

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func propertyKey(headerName string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(headerName)), " ", "_")
}
