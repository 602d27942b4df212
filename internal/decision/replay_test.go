package decision

import (
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"

	"contramind/internal/decision/ports/mocks"
	paramsmodels "contramind/internal/params/models"
	"contramind/pkg/canonical"
)

func (s *CoordinatorSuite) TestReplayReportsNoDriftOnUnchangedParameters() {
	for i, req := range []struct {
		amount  int64
		country string
		recent  int
	}{{1500, "US", 0}, {2750, "FR", 1}, {3000, "FR", 3}} {
		_, err := s.service.Submit(s.ctx, "replay-"+string(rune('a'+i)), request(req.amount, req.country, tuesday, req.recent))
		s.Require().NoError(err)
	}

	replayer := NewReplayer(s.ledger, s.params, nil, nil)
	report, err := replayer.Replay(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.EqualValues(1, report.From)
	s.EqualValues(3, report.To)
	s.Equal(3, report.Checked)
	s.Empty(report.Drift)
}

func (s *CoordinatorSuite) TestReplayFlagsDriftAfterThresholdChange() {
	pass, err := s.service.Submit(s.ctx, "drifts", request(2000, "US", tuesday, 0))
	s.Require().NoError(err)
	s.Require().Equal("PASS", pass.Decision)
	_, err = s.service.Submit(s.ctx, "stable", request(500, "US", tuesday, 0))
	s.Require().NoError(err)

	_, err = s.params.SetThreshold(s.ctx, paramsmodels.ThresholdAmountMax, decimal.NewFromInt(1000))
	s.Require().NoError(err)

	report, err := NewReplayer(s.ledger, s.params, nil, nil).Replay(s.ctx, 1, 2)
	s.Require().NoError(err)
	s.Equal(2, report.Checked)
	s.Require().Len(report.Drift, 1)

	drift := report.Drift[0]
	entry, err := s.ledger.Get(s.ctx, "drifts")
	s.Require().NoError(err)
	s.Equal(entry.ID, drift.LedgerID)
	s.Equal("PASS", drift.Recorded)
	s.Equal("NEED_ONE_BIT", drift.Now)
	s.Equal(pass.ParamHash, drift.RecordedParams)
	s.NotEqual(pass.ParamHash, report.ParamHash)
	s.Equal(canonical.DigestHex(entry.Bundle), drift.DigestHex)
}

func (s *CoordinatorSuite) TestReplayCountsPendingRowsWithoutCheckingThem() {
	s.signer.failures.Store(1)
	_, err := s.service.Submit(s.ctx, "pending", request(1500, "US", tuesday, 0))
	s.Require().Error(err)

	report, err := NewReplayer(s.ledger, s.params, nil, nil).Replay(s.ctx, 1, 0)
	s.Require().NoError(err)
	s.Equal(1, report.Pending)
	s.Zero(report.Checked)
}

func (s *CoordinatorSuite) TestReplayEmptyRange() {
	report, err := NewReplayer(s.ledger, s.params, nil, nil).Replay(s.ctx, 5, 0)
	s.Require().NoError(err)
	s.Zero(report.Checked)
	s.NotNil(report.Drift)
}

func (s *CoordinatorSuite) TestReplayAcceptsOneBitSettledDecisions() {
	oneBit := mocks.NewMockOneBit(gomock.NewController(s.T()))
	oneBit.EXPECT().Query(gomock.Any(), gomock.Any()).Return(false, nil)
	out, err := s.newService(WithOneBit(oneBit)).Submit(s.ctx, "settled", request(3000, "FR", tuesday, 3))
	s.Require().NoError(err)
	s.Require().Equal("REJECT", out.Decision)

	report, err := NewReplayer(s.ledger, s.params, nil, nil).Replay(s.ctx, out.LedgerID, out.LedgerID)
	s.Require().NoError(err)
	s.Equal(1, report.Checked)
	s.Empty(report.Drift)
}
