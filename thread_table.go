package main

import (
	"strconv"

	"threadkit/internal/thread"
)

// appendThreadTable formats one line per thread followed by a summary line.
func appendThreadTable(buf []byte, infos []thread.ThreadInfo, st thread.Stats) []byte {
	buf = append(buf, "ID\tNAME\tSTATE\tOWNER\tPRIO\tSUSPEND\tLOCALS\n"...)
	for _, info := range infos {
		buf = strconv.AppendInt(buf, int64(info.ID), 10)
		buf = append(buf, '\t')
		buf = append(buf, info.Name...)
		buf = append(buf, '\t')
		buf = append(buf, info.State.String()...)
		buf = append(buf, '\t')
		buf = append(buf, info.Ownership.String()...)
		buf = append(buf, '\t')
		buf = append(buf, info.Priority.String()...)
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, int64(info.SuspendCount), 10)
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, int64(info.Locals), 10)
		buf = append(buf, '\n')
	}
	buf = append(buf, "\nthreads="...)
	buf = strconv.AppendInt(buf, int64(len(infos)), 10)
	buf = append(buf, " created="...)
	buf = strconv.AppendUint(buf, st.ThreadsCreated, 10)
	buf = append(buf, " terminated="...)
	buf = strconv.AppendUint(buf, st.ThreadsTerminated, 10)
	buf = append(buf, " external_adopted="...)
	buf = strconv.AppendUint(buf, st.ExternalAdopted, 10)
	buf = append(buf, " external_reaped="...)
	buf = strconv.AppendUint(buf, st.ExternalReaped, 10)
	buf = append(buf, " live_payloads="...)
	buf = strconv.AppendUint(buf, st.LivePayloads(), 10)
	buf = append(buf, " live_storages="...)
	buf = strconv.AppendUint(buf, st.LiveStorages(), 10)
	buf = append(buf, '\n')
	return buf
}
