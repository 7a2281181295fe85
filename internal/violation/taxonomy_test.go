package violation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_SeverityOfKnownKind(t *testing.T) {
	tbl := DefaultTable()

	assert.Equal(t, 25, tbl.SeverityOf(KindDevtoolsOpen))
	assert.Equal(t, 40, tbl.SeverityOf(KindForgedFingerprint))
	assert.Equal(t, 10, tbl.SeverityOf(KindCopyAttempt))
}

func TestTable_UnknownKindFallsBackToDefault(t *testing.T) {
	tbl := DefaultTable()

	got := tbl.SeverityOf(Kind("SOME_FUTURE_SIGNAL"))
	assert.Equal(t, DefaultSeverity, got)
	assert.False(t, tbl.Known(Kind("SOME_FUTURE_SIGNAL")))
}

func TestTable_OverridesApply(t *testing.T) {
	tbl, err := NewTable(map[Kind]int{KindCopyAttempt: 50}, 3)
	require.NoError(t, err)

	assert.Equal(t, 50, tbl.SeverityOf(KindCopyAttempt))
	// Non-overridden kinds keep their built-in weight.
	assert.Equal(t, 25, tbl.SeverityOf(KindDevtoolsOpen))
	assert.Equal(t, 3, tbl.SeverityOf(Kind("unknown")))
}

func TestTable_NegativeSeverityRejected(t *testing.T) {
	_, err := NewTable(map[Kind]int{KindCopyAttempt: -1}, DefaultSeverity)
	require.Error(t, err)

	_, err = NewTable(nil, -5)
	require.Error(t, err)
}

func TestTable_ReplaceKeepsOldTableOnError(t *testing.T) {
	tbl := DefaultTable()

	err := tbl.Replace(map[Kind]int{KindPrintAttempt: -2}, DefaultSeverity)
	require.Error(t, err)
	assert.Equal(t, 15, tbl.SeverityOf(KindPrintAttempt))

	require.NoError(t, tbl.Replace(map[Kind]int{KindPrintAttempt: 99}, 1))
	assert.Equal(t, 99, tbl.SeverityOf(KindPrintAttempt))
	assert.Equal(t, 1, tbl.SeverityOf(Kind("unknown")))
}
