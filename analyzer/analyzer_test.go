package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/analysis/analysistest"
)

func Test_Analyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), Analyzer, "p")
}

func Test_Analyzer_AliasedWorkflowImport(t *testing.T) {
	results := analysistest.Run(t, analysistest.TestData(), Analyzer, "q")

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Diagnostics, 1)
	require.True(t, strings.HasPrefix(results[0].Diagnostics[0].Message, `workflow "wfWrongOrder2"`))
}
