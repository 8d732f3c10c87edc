package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceIDs(t *testing.T) {
	id, ok := AirtimeServiceID("9MOBILE")
	require.True(t, ok)
	assert.Equal(t, "etisalat", id)

	id, ok = DataServiceID("mtn")
	require.True(t, ok)
	assert.Equal(t, "mtn-data", id)

	_, ok = AirtimeServiceID("ntel")
	assert.False(t, ok)
}

func TestFindPlan(t *testing.T) {
	plan, ok := FindPlan("glo", "glo200")
	require.True(t, ok)
	assert.Equal(t, "200.00", plan.Amount.StringFixed(2))

	_, ok = FindPlan("glo", "mtn-10mb-100")
	assert.False(t, ok)
}

func TestDataPlansReturnsCopy(t *testing.T) {
	plans := DataPlans("airtel")
	require.Len(t, plans, 3)
	plans[0].Code = "mutated"
	assert.Equal(t, "airt-100", DataPlans("airtel")[0].Code)
}

func TestDistributors(t *testing.T) {
	id, ok := DistributorServiceID("IKEDC")
	require.True(t, ok)
	assert.Equal(t, "ikeja-electric", id)
	assert.Len(t, Distributors(), 9)
	assert.True(t, ValidMeterType("Prepaid"))
	assert.False(t, ValidMeterType("smart"))
}
