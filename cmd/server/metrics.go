package main

import (
	"fmt"
	"io"
	"net/http"

	"voxelresidency.ai/internal/persistence/indexdb"
	"voxelresidency.ai/internal/sim/world"
)

// writeMetrics renders the published residency stats in the Prometheus text format.
func writeMetrics(rw http.ResponseWriter, st *world.Stats, idx *indexdb.SQLiteIndex) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeStats(rw, st)
	if idx != nil {
		fmt.Fprintf(rw, "# HELP voxelresidency_index_dropped_ticks_total Tick entries dropped because the sqlite index fell behind.\n")
		fmt.Fprintf(rw, "# TYPE voxelresidency_index_dropped_ticks_total counter\n")
		fmt.Fprintf(rw, "voxelresidency_index_dropped_ticks_total{world=%q} %d\n", st.WorldID, idx.Stats().DropTickTotal)
	}
}

func writeStats(w io.Writer, st *world.Stats) {
	fmt.Fprintf(w, "# HELP voxelresidency_world_tick Last completed world tick.\n")
	fmt.Fprintf(w, "# TYPE voxelresidency_world_tick gauge\n")
	fmt.Fprintf(w, "voxelresidency_world_tick{world=%q} %d\n", st.WorldID, st.Tick)

	fmt.Fprintf(w, "# HELP voxelresidency_chunks Resident chunks by state.\n")
	fmt.Fprintf(w, "# TYPE voxelresidency_chunks gauge\n")
	fmt.Fprintf(w, "voxelresidency_chunks{world=%q,state=%q} %d\n", st.WorldID, "loaded", st.Loaded)
	fmt.Fprintf(w, "voxelresidency_chunks{world=%q,state=%q} %d\n", st.WorldID, "pending_unload", st.Pending)

	fmt.Fprintf(w, "# HELP voxelresidency_watchers Active watchers.\n")
	fmt.Fprintf(w, "# TYPE voxelresidency_watchers gauge\n")
	fmt.Fprintf(w, "voxelresidency_watchers{world=%q} %d\n", st.WorldID, st.Watchers)

	fmt.Fprintf(w, "# HELP voxelresidency_unload_grace_ms Current chunk unload delay in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE voxelresidency_unload_grace_ms gauge\n")
	fmt.Fprintf(w, "voxelresidency_unload_grace_ms{world=%q} %d\n", st.WorldID, st.GraceMs)

	fmt.Fprintf(w, "# HELP voxelresidency_chunk_events_total Chunk residency transitions.\n")
	fmt.Fprintf(w, "# TYPE voxelresidency_chunk_events_total counter\n")
	fmt.Fprintf(w, "voxelresidency_chunk_events_total{world=%q,kind=%q} %d\n", st.WorldID, "load", st.LoadsTotal)
	fmt.Fprintf(w, "voxelresidency_chunk_events_total{world=%q,kind=%q} %d\n", st.WorldID, "resume", st.ResumesTotal)
	fmt.Fprintf(w, "voxelresidency_chunk_events_total{world=%q,kind=%q} %d\n", st.WorldID, "unload", st.UnloadsTotal)
}
