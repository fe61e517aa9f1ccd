package task

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func isKnownState(s State) bool {
	return s == StateProcessing || s == StateCompleted || s == StateFailed
}

// 分类必须是全函数：任意 token 与 HTTP 状态码都落在三种状态之一。
func TestProperty_ClassificationIsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any observation maps to processing, completed or failed", prop.ForAll(
		func(token string, code int) bool {
			s := testTable.Classify(&Observation{HTTPStatus: code, Token: token})
			return isKnownState(s) && s != StateTimeout
		},
		gen.AnyString(),
		gen.IntRange(100, 599),
	))

	properties.Property("unknown tokens on 2xx stay processing", prop.ForAll(
		func(token string) bool {
			if _, known := testTable.Tokens[token]; known {
				return true
			}
			return testTable.Classify(&Observation{HTTPStatus: 200, Token: token}) == StateProcessing
		},
		gen.AlphaString(),
	))

	properties.Property("unmapped 4xx always fails", prop.ForAll(
		func(code int, token string) bool {
			if _, mapped := testTable.HTTPStatus[code]; mapped {
				return true
			}
			return testTable.Classify(&Observation{HTTPStatus: code, Token: token}) == StateFailed
		},
		gen.IntRange(400, 499),
		gen.OneConstOf("Ready", "Pending", "Error", "whatever"),
	))

	properties.TestingRun(t)
}

func TestTable_Classify(t *testing.T) {
	tests := []struct {
		name string
		obs  *Observation
		want State
	}{
		{"completed token", &Observation{HTTPStatus: 200, Token: "Ready"}, StateCompleted},
		{"failed token", &Observation{HTTPStatus: 200, Token: "Failed"}, StateFailed},
		{"explicit processing", &Observation{HTTPStatus: 200, Token: "Pending"}, StateProcessing},
		{"unknown token", &Observation{HTTPStatus: 200, Token: "Warming"}, StateProcessing},
		{"http override", &Observation{HTTPStatus: 404, Token: "Error"}, StateProcessing},
		{"unmapped 4xx", &Observation{HTTPStatus: 403}, StateFailed},
		{"nil observation", nil, StateProcessing},
		{"whitespace trimmed", &Observation{HTTPStatus: 200, Token: " Ready "}, StateCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testTable.Classify(tt.obs); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}

	ci := Table{Tokens: Tokens([]string{"success"}, nil, nil), CaseInsensitive: true}
	if got := ci.Classify(&Observation{HTTPStatus: 200, Token: "SUCCESS"}); got != StateCompleted {
		t.Errorf("case-insensitive Classify() = %s", got)
	}
	if got := (Table{Default: StateTimeout}).Classify(&Observation{HTTPStatus: 200}); got != StateProcessing {
		t.Errorf("timeout default must fold to processing, got %s", got)
	}
}
