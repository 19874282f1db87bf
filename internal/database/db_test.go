package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/lmeve2/internal/settings"
)

func TestSelectSchemaUsesBackquotedIdentifier(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	mock.ExpectExec("USE `lmeve2`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	c, err := Wrap(context.Background(), db)
	require.NoError(t, err)
	require.NoError(t, c.SelectSchema(context.Background(), "lmeve2"))
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectSchemaRejectsUnsafeName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	c, err := Wrap(context.Background(), db)
	require.NoError(t, err)
	defer c.Close()

	for _, name := range []string{"", "lmeve`; DROP TABLE users; --", "a b", "x/y"} {
		err := c.SelectSchema(context.Background(), name)
		var de *Error
		require.True(t, errors.As(err, &de), name)
		assert.Equal(t, StageSelectDB, de.Stage)
	}
}

func TestSelectSchemaUnknownDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	mock.ExpectExec("USE `missing`").
		WillReturnError(&mysql.MySQLError{Number: 1049, SQLState: [5]byte{'4', '2', '0', '0', '0'}, Message: "Unknown database 'missing'"})

	c, err := Wrap(context.Background(), db)
	require.NoError(t, err)
	defer c.Close()

	err = c.SelectSchema(context.Background(), "missing")
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, StageSelectDB, de.Stage)
	assert.EqualValues(t, 1049, de.Code)
	assert.Equal(t, "42000", de.SQLState)
	assert.Equal(t, "Unknown database 'missing'", de.Message)
}

func TestServerVersion(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	mock.ExpectQuery("SELECT VERSION()").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow("8.0.36"))

	c, err := Wrap(context.Background(), db)
	require.NoError(t, err)
	defer c.Close()

	v, err := c.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", v)
}

func TestConfigOmitsSchema(t *testing.T) {
	mc := Config(settings.DBConfig{Host: "db", Port: 3307, Username: "u", Password: "p@ss", Database: "lmeve2"})
	assert.Equal(t, "db:3307", mc.Addr)
	assert.Empty(t, mc.DBName)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, "p@ss", mc.Passwd)
}
