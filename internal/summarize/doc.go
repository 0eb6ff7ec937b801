// Package summarize turns the recent votes of a room into a clustered
// RoomSummary using an llm.Generator, and runs that on a schedule.
//
// A Summarizer handles one room per call. The Scheduler ticks on an
// interval and summarizes the configured rooms plus every room that
// received a vote since the previous tick, backing off exponentially
// while ticks keep failing.
package summarize
