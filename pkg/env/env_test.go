package env

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type EnvTestSuite struct {
	suite.Suite
}

func (s *EnvTestSuite) TearDownTest() {
	os.Unsetenv("OPSDESK_PORT")
	os.Unsetenv("OPSDESK_LOG_LEVEL")
	os.Unsetenv("OPSDESK_CAPABILITY_TIMEOUT")
}

func (s *EnvTestSuite) TestProcess() {
	assert.Nil(s.T(), Process())
	assert.NotNil(s.T(), Variables())
	assert.Equal(s.T(), "info", Variables().LogLevel)
	assert.Equal(s.T(), 30*time.Second, Variables().CapabilityTimeout)
	assert.Equal(s.T(), 10, Variables().QueueBatch)
	assert.Equal(s.T(), 8*time.Hour, Variables().SessionTTL)
}

func (s *EnvTestSuite) TestProcessOverride() {
	os.Setenv("OPSDESK_CAPABILITY_TIMEOUT", "5s")
	assert.Nil(s.T(), Process())
	assert.Equal(s.T(), 5*time.Second, Variables().CapabilityTimeout)
}

func (s *EnvTestSuite) TestProcessInvalidTypeFailure() {
	os.Setenv("OPSDESK_PORT", "not_a_port")
	assert.NotNil(s.T(), Process())
}

func (s *EnvTestSuite) TestProcessInvalidLogLevelFailure() {
	os.Setenv("OPSDESK_LOG_LEVEL", "bogus")
	assert.NotNil(s.T(), Process())
}

func TestEnvTestSuite(t *testing.T) {
	suite.Run(t, new(EnvTestSuite))
}
