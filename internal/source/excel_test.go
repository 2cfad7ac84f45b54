package source

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestExcelAdapter_FetchUsers(t *testing.T) {
	content := buildWorkbook(t, [][]any{
		{"Username", "Display Name", "Email", "Phone", "Department Path", "Leader", "Employee No"},
		{"alice", "Alice", "alice@corp.test", "123", "Sales/West", "", "E-100"},
		{"bob", "Bob", "", "", "Sales/West", "alice", ""},
		{"", "", "", "", "", "", ""}, // 空行跳过
	})
	adapter := NewExcelAdapterFromBytes(content, "", zap.NewNop())
	assert.Equal(t, KindFlatPath, adapter.AddressKind())

	users, err := adapter.FetchUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)

	alice := users[0]
	assert.Equal(t, "alice", alice.ExternalCode)
	assert.Equal(t, "Alice", alice.Properties["display_name"])
	assert.Equal(t, "alice@corp.test", alice.Properties["email"])
	// 模板外的列转为自定义属性，表头归一化为字段 key
	assert.Equal(t, "E-100", alice.Properties["employee_no"])
	assert.Equal(t, []string{"Sales/West"}, alice.DepartmentPaths)
	assert.Empty(t, alice.LeaderCodes)

	bob := users[1]
	assert.Equal(t, []string{"alice"}, bob.LeaderCodes)
	_, hasEmpNo := bob.Properties["employee_no"]
	assert.False(t, hasEmpNo)
}

func TestExcelAdapter_FetchDepartmentsDeduplicates(t *testing.T) {
	content := buildWorkbook(t, [][]any{
		{"Username", "Display Name", "Email", "Phone", "Department Path", "Leader"},
		{"alice", "", "", "", "Sales/West", ""},
		{"bob", "", "", "", "Sales/West", ""},
		{"carol", "", "", "", "Sales/East", ""},
		{"dave", "", "", "", "", ""},
	})
	adapter := NewExcelAdapterFromBytes(content, "", zap.NewNop())

	depts, err := adapter.FetchDepartments(context.Background())
	require.NoError(t, err)
	require.Len(t, depts, 2)
	assert.Equal(t, "West", depts[0].Name)
	assert.Equal(t, "Sales/West", depts[0].Path)
	assert.Equal(t, "Sales/East", depts[1].Path)
}

func TestExcelAdapter_MissingRequiredColumn(t *testing.T) {
	content := buildWorkbook(t, [][]any{
		{"Name", "Mail"},
		{"alice", "alice@corp.test"},
	})
	adapter := NewExcelAdapterFromBytes(content, "", zap.NewNop())

	_, err := adapter.FetchUsers(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)

	_, err = adapter.FetchDepartments(context.Background())
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestExcelAdapter_TestConnection(t *testing.T) {
	content := buildWorkbook(t, [][]any{
		{"Username", "Display Name", "Email", "Phone", "Department Path", "Leader"},
		{"alice", "Alice", "", "", "Sales", ""},
	})
	adapter := NewExcelAdapterFromBytes(content, "", zap.NewNop())

	result := adapter.TestConnection(context.Background())
	require.True(t, result.OK)
	require.NotNil(t, result.SampleUser)
	assert.Equal(t, "alice", result.SampleUser.ExternalCode)
	require.NotNil(t, result.SampleDepartment)
	assert.Equal(t, "Sales", result.SampleDepartment.Path)

	bad := NewExcelAdapterFromBytes([]byte("not a workbook"), "", zap.NewNop())
	result = bad.TestConnection(context.Background())
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestGenerateImportTemplate(t *testing.T) {
	content, err := GenerateImportTemplate([]string{"employee_no"})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	header := rows[0]
	require.Len(t, header, len(ExcelImportHeader)+1)
	assert.Equal(t, ExcelImportHeader, header[:len(ExcelImportHeader)])
	assert.Equal(t, "employee_no", header[len(ExcelImportHeader)])
}
