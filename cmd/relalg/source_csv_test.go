package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariyn/relalg/internal/relalg/types"
)

func TestReadCSVTable_TypedHeader(t *testing.T) {
	src := "id:Int,email,score:Double,joined:DateTime,active:Bool,grade:Char,big:Long\n" +
		"1,a@mail,1.5,2021-03-04 05:06:07,true,A,9000000000\n" +
		"2,b@mail,-2,2022-01-01 00:00:00,false,B,1\n"
	tbl, err := readCSVTable("users", strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "users", tbl.Name())
	require.Equal(t, 7, tbl.NumColumns())
	assert.Equal(t, types.Column{Name: "email", Domain: types.DomainString}, tbl.Column(1))
	assert.Equal(t, types.DomainDateTime, tbl.Column(3).Domain)
	require.Equal(t, 2, tbl.NumRows())

	r := tbl.Rows()[0]
	assert.Equal(t, int32(1), r[0])
	assert.Equal(t, "a@mail", r[1])
	assert.Equal(t, 1.5, r[2])
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), r[3])
	assert.Equal(t, true, r[4])
	assert.Equal(t, types.Char('A'), r[5])
	assert.Equal(t, int64(9000000000), r[6])
}

func TestReadCSVTable_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown domain": "id:Decimal\n1\n",
		"bad int":        "id:Int\nx\n",
		"int overflow":   "id:Int\n3000000000\n",
		"bad char":       "c:Char\nab\n",
		"empty":          "",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readCSVTable("T", strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("id:Int\n1\n2\n"), 0644))

	tables, err := loadTables([]string{"A=" + path})
	require.NoError(t, err)
	assert.Equal(t, 2, tables["A"].NumRows())
	assert.Equal(t, "A", tables["A"].Name())

	_, err = loadTables([]string{"A=" + path, "A=" + path})
	assert.Error(t, err)
	_, err = loadTables([]string{path})
	assert.Error(t, err)
	_, err = loadTables([]string{"B=" + filepath.Join(dir, "missing.csv")})
	assert.Error(t, err)

	tbl, err := loadCSVTable("", path)
	require.NoError(t, err)
	assert.Equal(t, "a", tbl.Name())
}
