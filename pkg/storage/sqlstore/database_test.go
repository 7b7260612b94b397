package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// go test -v --run ^TestCreateDatabaseSQL$
func TestCreateDatabaseSQL(t *testing.T) {
	assert.Equal(t, `CREATE DATABASE "candles"`, createDatabaseSQL("candles"))
	assert.Equal(t, `CREATE DATABASE "my""db"`, createDatabaseSQL(`my"db`))
	assert.Equal(t, `CREATE DATABASE "a\b"`, createDatabaseSQL(`a\b`))
}
