package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ModelsTestSuite struct {
	suite.Suite
}

func (s *ModelsTestSuite) TestFileStatus() {
	assert.Equal(s.T(), "READY", FileStatus("[READY]_Contract_Acme.docx"))
	assert.Equal(s.T(), "REVIEW", FileStatus(" [review]_@jane_Contract.docx"))
	assert.Equal(s.T(), "", FileStatus("Contract_Acme.docx"))
	assert.Equal(s.T(), "", FileStatus("Contract [READY].docx"))
}

func (s *ModelsTestSuite) TestExecutionStatusTerminal() {
	assert.False(s.T(), ExecutionStatusPending.Terminal())
	assert.False(s.T(), ExecutionStatusRunning.Terminal())
	assert.True(s.T(), ExecutionStatusCompleted.Terminal())
	assert.True(s.T(), ExecutionStatusFailed.Terminal())
}

func (s *ModelsTestSuite) TestTriggerTypeValid() {
	assert.True(s.T(), TriggerTypeEmailReceived.Valid())
	assert.True(s.T(), TriggerTypeFileStatusChanged.Valid())
	assert.True(s.T(), TriggerTypeCustomerCreated.Valid())
	assert.False(s.T(), TriggerType("cron").Valid())
}

func (s *ModelsTestSuite) TestEmployeeCan() {
	e := &Employee{Capabilities: []string{"technical_review", "billing_support"}}
	assert.True(s.T(), e.Can("technical_review"))
	assert.False(s.T(), e.Can("contract_review"))
}

func TestModelsTestSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}
