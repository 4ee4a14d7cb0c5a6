package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type TestResultRequest struct {
	NVTOID   string  `json:"nvt_oid" validate:"required,oid"`
	Host     string  `json:"host" validate:"required"`
	Severity float64 `json:"severity" validate:"severity"`
	Threat   string  `json:"threat" validate:"required,threat"`
}

type TestScanRequest struct {
	ScanID string `json:"scan_id" validate:"required,uuid"`
	Name   string `json:"name" validate:"required,min=3,max=100"`
}

type TestConfigRequest struct {
	IntervalSeconds int    `json:"interval_seconds" validate:"gte=60,lte=86400"`
	SchedulerCron   string `json:"scheduler_cron" validate:"omitempty,cronexpr"`
}

func TestValidateStruct_Success(t *testing.T) {
	req := TestScanRequest{
		ScanID: "123e4567-e89b-12d3-a456-426614174000",
		Name:   "Weekly sweep",
	}

	err := ValidateStruct(req)
	assert.NoError(t, err)
}

func TestValidateStruct_RequiredFields(t *testing.T) {
	req := TestScanRequest{}

	err := ValidateStruct(req)
	assert.Error(t, err)
}

func TestValidateRequest_Success(t *testing.T) {
	req := TestResultRequest{
		NVTOID:   "1.3.6.1.4.1.25623.1.0.10662",
		Host:     "localhost",
		Severity: 5.0,
		Threat:   "Medium",
	}

	errs := ValidateRequest(req)
	assert.Nil(t, errs)
}

func TestValidateRequest_MultipleErrors(t *testing.T) {
	req := TestResultRequest{
		NVTOID:   "1.2.3.bad",
		Host:     "",
		Severity: 10.1,
		Threat:   "Severe",
	}

	errs := ValidateRequest(req)
	assert.NotNil(t, errs)
	assert.Contains(t, errs, "nvtoid")
	assert.Contains(t, errs, "host")
	assert.Contains(t, errs, "severity")
	assert.Contains(t, errs, "threat")
}

func TestValidateOID_Valid(t *testing.T) {
	validOIDs := []string{
		"1.3.6.1.4.1.25623.1.0.10662",
		"1.2.3",
		"1.3.6.1.4.1.25623.1.0.1",
	}

	for _, oid := range validOIDs {
		assert.True(t, ValidateOIDFormat(oid), "OID should be valid: %s", oid)
	}
}

func TestValidateOID_Invalid(t *testing.T) {
	tests := []struct {
		name string
		oid  string
	}{
		{"non-numeric segment", "1.2.3.bad"},
		{"trailing dot", "1.2.3."},
		{"leading dot", ".1.2.3"},
		{"single segment", "1"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, ValidateOIDFormat(tt.oid), "OID should be invalid: %s", tt.oid)
		})
	}
}

func TestValidateSeverity_Boundary(t *testing.T) {
	req := TestResultRequest{NVTOID: "1.2.3", Host: "h", Threat: "Low"}

	req.Severity = 0.0
	assert.Nil(t, ValidateRequest(req))

	req.Severity = 10.0
	assert.Nil(t, ValidateRequest(req))

	req.Severity = 10.1
	errs := ValidateRequest(req)
	assert.NotNil(t, errs)
	assert.Contains(t, errs, "severity")

	req.Severity = -0.1
	errs = ValidateRequest(req)
	assert.NotNil(t, errs)
	assert.Contains(t, errs, "severity")
}

func TestValidateThreat_Valid(t *testing.T) {
	for _, threat := range []string{"Log", "Low", "Medium", "High", "Critical"} {
		req := TestResultRequest{NVTOID: "1.2.3", Host: "h", Threat: threat}
		errs := ValidateRequest(req)
		assert.Nil(t, errs, "threat should be valid: %s", threat)
	}
}

func TestValidateThreat_Invalid(t *testing.T) {
	for _, threat := range []string{"severe", "medium", "Unknown", ""} {
		req := TestResultRequest{NVTOID: "1.2.3", Host: "h", Threat: threat}
		errs := ValidateRequest(req)
		assert.NotNil(t, errs, "threat should be invalid: %s", threat)
		assert.Contains(t, errs, "threat")
	}
}

func TestValidateCronExpr(t *testing.T) {
	assert.NoError(t, ValidateCronExpr("0 3 * * *"))
	assert.NoError(t, ValidateCronExpr("@daily"))
	assert.Error(t, ValidateCronExpr("not a cron expression"))
}

func TestValidateHeartbeatInterval_Boundary(t *testing.T) {
	req := TestConfigRequest{IntervalSeconds: 59}
	errs := ValidateRequest(req)
	assert.NotNil(t, errs)
	assert.Contains(t, errs, "intervalseconds")

	req.IntervalSeconds = 60
	assert.Nil(t, ValidateRequest(req))
}

func TestValidateUUID_Invalid(t *testing.T) {
	invalidUUIDs := []string{"not-a-uuid", "123456", ""}

	for _, id := range invalidUUIDs {
		req := TestScanRequest{ScanID: id, Name: "Test"}
		errs := ValidateRequest(req)
		assert.NotNil(t, errs, "UUID should be invalid: %s", id)
		assert.Contains(t, errs, "scanid")
	}
}

func TestFormatValidationError_Descriptive(t *testing.T) {
	req := TestResultRequest{NVTOID: "bad", Host: "", Severity: -1, Threat: "nope"}

	errs := ValidateRequest(req)
	assert.NotNil(t, errs)

	for field, msg := range errs {
		assert.NotEmpty(t, msg, "error message should not be empty for field: %s", field)
		assert.NotContains(t, msg, "validation failed on", "should use the custom message, not the generic fallback")
	}
}
