package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

func TestEvacuationTimesEndpoint(t *testing.T) {
	rig := newAPIRig(t, false)
	key := seedKey(t, rig.store, "planner", types.KeyLimits{})

	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/configuration/evacuation-times", key, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, string(raw))
	}
	var result EvacuationTimesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Evacuation == nil {
		t.Fatal("expected an evacuation configuration")
	}
	if len(result.Evacuation.EvacuationTimes[types.FacilityPOI]) == 0 {
		t.Error("expected POI evacuation windows")
	}
	if len(result.Evacuation.TransitTimes) == 0 {
		t.Error("expected transit windows")
	}
}

func TestEvacuationTimesEndpoint_Unauthenticated(t *testing.T) {
	rig := newAPIRig(t, false)

	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/configuration/evacuation-times", "", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.StatusCode)
	}
}

func TestPatientTimeline(t *testing.T) {
	rig := newAPIRig(t, true)
	key := seedKey(t, rig.store, "clinician", types.KeyLimits{})

	submitted := rig.submitJob(t, key, validRequest(20))
	waitForJobStatus(t, rig.store, submitted.JobID, types.JobCompleted, 10*time.Second)

	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/patients/1", key, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, string(raw))
	}

	var result PatientTimelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.JobID != submitted.JobID {
		t.Errorf("expected job id %s, got %s", submitted.JobID, result.JobID)
	}
	if result.PatientID != 1 {
		t.Errorf("expected patient 1, got %d", result.PatientID)
	}
	if len(result.Timeline) == 0 {
		t.Fatal("expected a non-empty timeline")
	}
	if result.Summary.TimelineEvents != len(result.Timeline) {
		t.Errorf("expected summary count %d, got %d", len(result.Timeline), result.Summary.TimelineEvents)
	}
	if result.Summary.FinalStatus != types.StatusKIA && result.Summary.FinalStatus != types.StatusRTD {
		t.Errorf("expected a terminal outcome, got %s", result.Summary.FinalStatus)
	}
	if result.Summary.HoursToOutcome <= 0 {
		t.Errorf("expected positive hours to outcome, got %f", result.Summary.HoursToOutcome)
	}

	visited := result.Summary.FacilitiesVisited
	if len(visited) == 0 {
		t.Fatal("expected visited facilities")
	}
	if visited[0] != types.FacilityPOI {
		t.Errorf("expected the chain to start at POI, got %s", visited[0])
	}
	if visited[len(visited)-1] != result.Summary.LastFacility {
		t.Errorf("expected last facility %s to end the visit list, got %s",
			result.Summary.LastFacility, visited[len(visited)-1])
	}
}

func TestPatientTimeline_UnknownPatient(t *testing.T) {
	rig := newAPIRig(t, true)
	key := seedKey(t, rig.store, "counter2", types.KeyLimits{})

	submitted := rig.submitJob(t, key, validRequest(10))
	waitForJobStatus(t, rig.store, submitted.JobID, types.JobCompleted, 10*time.Second)

	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/patients/999", key, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestPatientTimeline_BadPatientID(t *testing.T) {
	rig := newAPIRig(t, false)
	key := seedKey(t, rig.store, "typo", types.KeyLimits{})

	submitted := rig.submitJob(t, key, validRequest(10))

	for _, pid := range []string{"abc", "0", "-3"} {
		resp := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/patients/"+pid, key, nil)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("patient id %q: expected status 422, got %d", pid, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestPatientTimeline_PendingJob(t *testing.T) {
	rig := newAPIRig(t, false)
	key := seedKey(t, rig.store, "impatient", types.KeyLimits{})

	submitted := rig.submitJob(t, key, validRequest(10))

	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/patients/1", key, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Details["status"] != string(types.JobPending) {
		t.Errorf("expected pending status in details, got %v", body.Details["status"])
	}
}

func TestJobStatistics(t *testing.T) {
	rig := newAPIRig(t, true)
	key := seedKey(t, rig.store, "analyst", types.KeyLimits{})

	submitted := rig.submitJob(t, key, validRequest(20))
	completed := waitForJobStatus(t, rig.store, submitted.JobID, types.JobCompleted, 10*time.Second)

	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/statistics", key, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, string(raw))
	}

	var result StatisticsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.JobID != submitted.JobID {
		t.Errorf("expected job id %s, got %s", submitted.JobID, result.JobID)
	}
	st := result.Statistics
	if st == nil {
		t.Fatal("expected statistics")
	}
	if st.TotalPatients != 20 {
		t.Errorf("expected 20 patients, got %d", st.TotalPatients)
	}
	outcomes := 0
	for _, n := range st.ByFinalStatus {
		outcomes += n
	}
	if outcomes != 20 {
		t.Errorf("expected outcomes to cover every patient, got %d", outcomes)
	}
	if st.HoursToOutcome.Count != 20 {
		t.Errorf("expected outcome durations for every patient, got %d", st.HoursToOutcome.Count)
	}
	if completed.Summary != nil && st.CasualtyEvents != completed.Summary.TotalEvents {
		t.Errorf("expected %d casualty events from the job summary, got %d",
			completed.Summary.TotalEvents, st.CasualtyEvents)
	}

	// The first read warms the cache; a second read serves the same
	// payload from it.
	if _, ok := rig.cache.Get(context.Background(), "timeline:stats:"+submitted.JobID); !ok {
		t.Error("expected the statistics payload to be cached")
	}
	again := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/statistics", key, nil)
	defer again.Body.Close()
	if again.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 on the cached read, got %d", again.StatusCode)
	}
	var cached StatisticsResponse
	if err := json.NewDecoder(again.Body).Decode(&cached); err != nil {
		t.Fatalf("failed to decode cached response: %v", err)
	}
	if cached.Statistics == nil || cached.Statistics.TotalPatients != st.TotalPatients {
		t.Error("expected the cached payload to match the computed one")
	}
}

func TestJobStatistics_ForeignTenantAfterCache(t *testing.T) {
	rig := newAPIRig(t, true)
	owner := seedKey(t, rig.store, "owner2", types.KeyLimits{})
	other := seedKey(t, rig.store, "other2", types.KeyLimits{})

	submitted := rig.submitJob(t, owner, validRequest(10))
	waitForJobStatus(t, rig.store, submitted.JobID, types.JobCompleted, 10*time.Second)

	warm := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/statistics", owner, nil)
	warm.Body.Close()
	if warm.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 warming the cache, got %d", warm.StatusCode)
	}

	// Ownership is enforced before the cache is consulted.
	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/statistics", other, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestJobStatistics_PendingJob(t *testing.T) {
	rig := newAPIRig(t, false)
	key := seedKey(t, rig.store, "premature", types.KeyLimits{})

	submitted := rig.submitJob(t, key, validRequest(10))

	resp := rig.request(t, http.MethodGet, "/api/v1/timeline/jobs/"+submitted.JobID+"/statistics", key, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.StatusCode)
	}
}
