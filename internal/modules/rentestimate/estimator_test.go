package rentestimate

import (
	"testing"
	"time"

	"github.com/propyield/platform/internal/modules/enrichment"
	"github.com/propyield/platform/internal/modules/listings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleListingForEstimate(sqft int) *listings.Listing {
	return &listings.Listing{
		ID:             "L-1",
		Source:         "demofeed",
		Status:         listings.StatusActive,
		Address:        listings.Address{City: "Toronto"},
		PropertyType:   listings.PropertyCondo,
		Beds:           2,
		Baths:          1.5,
		SqFt:           &sqft,
		ListPrice:      650000,
		ListingVersion: 1,
	}
}

func TestEstimator_UsesCompsWhenThresholdMet(t *testing.T) {
	sqft := 780
	l := sampleListingForEstimate(sqft)
	est := NewEstimator(NewMockCompsProvider(), EstimatorConfig{})

	re, err := est.Estimate(l, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodComps, re.Method)
	require.NotNil(t, re.P25)
	require.NotNil(t, re.P75)
	assert.LessOrEqual(t, *re.P25, re.P50)
	assert.LessOrEqual(t, re.P50, *re.P75)
	assert.NotEmpty(t, re.FeaturesUsed.Comps)
}

func TestEstimator_FallsBackToPriorsWhenCompsInsufficient(t *testing.T) {
	sqft := 780
	l := sampleListingForEstimate(sqft)
	l.Address.City = "Unknown City" // no comps fixtures for this city
	est := NewEstimator(NewMockCompsProvider(), EstimatorConfig{CompsMinCount: 3})

	enr := &enrichment.Enrichment{
		RentPriors: &enrichment.RentPriors{P25: 2200, P50: 2600, P75: 3000, Source: enrichment.RentPriorCMHC, AsOf: time.Now()},
	}

	re, err := est.Estimate(l, enr)
	require.NoError(t, err)
	assert.Equal(t, MethodPriors, re.Method)
	assert.Equal(t, 2600.0, re.P50)
	require.NotNil(t, re.FeaturesUsed.PriorsSnapshot)
}

func TestEstimator_FallsBackToFormulaWhenNoCompsOrPriors(t *testing.T) {
	sqft := 780
	l := sampleListingForEstimate(sqft)
	l.Address.City = "Unknown City"
	est := NewEstimator(NewMockCompsProvider(), EstimatorConfig{CompsMinCount: 3})

	re, err := est.Estimate(l, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodModel, re.Method)
	assert.Equal(t, 2100.0, re.P50)
	assert.Nil(t, re.P25)
	assert.Nil(t, re.P75)
}

func TestEstimator_PriorsWithNoneSourceFallsThroughToFormula(t *testing.T) {
	sqft := 780
	l := sampleListingForEstimate(sqft)
	l.Address.City = "Unknown City"
	est := NewEstimator(NewMockCompsProvider(), EstimatorConfig{CompsMinCount: 3})

	enr := &enrichment.Enrichment{RentPriors: &enrichment.RentPriors{Source: enrichment.RentPriorNone}}

	re, err := est.Estimate(l, enr)
	require.NoError(t, err)
	assert.Equal(t, MethodModel, re.Method)
}
