// Package catalog lists the networks, data plans and electricity
// distributors the provider sells, keyed by the codes clients send.
package catalog

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MeterPrepaid  = "prepaid"
	MeterPostpaid = "postpaid"
)

type Plan struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

var networkServiceIDs = map[string]string{
	"mtn":     "mtn",
	"airtel":  "airtel",
	"glo":     "glo",
	"9mobile": "etisalat",
}

var dataPlans = map[string][]Plan{
	"mtn": {
		{Code: "mtn-10mb-100", Name: "MTN 100MB - 24 hrs", Amount: decimal.NewFromInt(100)},
		{Code: "mtn-50mb-200", Name: "MTN 200MB - 2 days", Amount: decimal.NewFromInt(200)},
		{Code: "mtn-100mb-1000", Name: "MTN 1.5GB - 30 days", Amount: decimal.NewFromInt(1000)},
	},
	"airtel": {
		{Code: "airt-100", Name: "Airtel 75MB - 1 day", Amount: decimal.NewFromInt(100)},
		{Code: "airt-200", Name: "Airtel 200MB - 3 days", Amount: decimal.NewFromInt(200)},
		{Code: "airt-500", Name: "Airtel 750MB - 14 days", Amount: decimal.NewFromInt(500)},
	},
	"glo": {
		{Code: "glo100", Name: "Glo 105MB - 2 days", Amount: decimal.NewFromInt(100)},
		{Code: "glo200", Name: "Glo 350MB - 4 days", Amount: decimal.NewFromInt(200)},
		{Code: "glo500", Name: "Glo 1.05GB - 14 days", Amount: decimal.NewFromInt(500)},
	},
	"9mobile": {
		{Code: "eti-100", Name: "9mobile 100MB - 1 day", Amount: decimal.NewFromInt(100)},
		{Code: "eti-200", Name: "9mobile 650MB - 1 day", Amount: decimal.NewFromInt(200)},
		{Code: "eti-500", Name: "9mobile 500MB - 30 days", Amount: decimal.NewFromInt(500)},
	},
}

var distributors = map[string]string{
	"ikedc":  "ikeja-electric",
	"ekedc":  "eko-electric",
	"aedc":   "abuja-electric",
	"bedc":   "benin-electric",
	"phed":   "portharcourt-electric",
	"kaedco": "kaduna-electric",
	"kedco":  "kano-electric",
	"eedc":   "enugu-electric",
	"aba":    "aba-electric",
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// AirtimeServiceID maps a network code to the provider's airtime serviceID.
func AirtimeServiceID(network string) (string, bool) {
	id, ok := networkServiceIDs[normalize(network)]
	return id, ok
}

func DataServiceID(network string) (string, bool) {
	id, ok := networkServiceIDs[normalize(network)]
	if !ok {
		return "", false
	}
	return id + "-data", true
}

func DataPlans(network string) []Plan {
	plans := dataPlans[normalize(network)]
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

func AllDataPlans() map[string][]Plan {
	out := make(map[string][]Plan, len(dataPlans))
	for network := range dataPlans {
		out[network] = DataPlans(network)
	}
	return out
}

func FindPlan(network, code string) (Plan, bool) {
	for _, plan := range dataPlans[normalize(network)] {
		if plan.Code == strings.TrimSpace(code) {
			return plan, true
		}
	}
	return Plan{}, false
}

func DistributorServiceID(disco string) (string, bool) {
	id, ok := distributors[normalize(disco)]
	return id, ok
}

func Networks() []string {
	out := make([]string, 0, len(networkServiceIDs))
	for network := range networkServiceIDs {
		out = append(out, network)
	}
	sort.Strings(out)
	return out
}

func Distributors() []string {
	out := make([]string, 0, len(distributors))
	for code := range distributors {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func ValidMeterType(meterType string) bool {
	switch normalize(meterType) {
	case MeterPrepaid, MeterPostpaid:
		return true
	}
	return false
}
