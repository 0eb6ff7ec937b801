package ratelimit

import "time"

// action names, also used as the metric label
const (
	ActionVote           = "vote"
	ActionHotTopicCreate = "hot_topic_create"
	ActionHotTopicVote   = "hot_topic_vote"
	ActionAPI            = "api"
)

// VoteRule allows 10 stance votes per minute per user
func VoteRule() Rule {
	return Rule{Action: ActionVote, MaxRequests: 10, Window: time.Minute, KeyFunc: ActionKey(ActionVote)}
}

// HotTopicCreateRule allows 3 new hot topics per hour per user
func HotTopicCreateRule() Rule {
	return Rule{Action: ActionHotTopicCreate, MaxRequests: 3, Window: time.Hour, KeyFunc: ActionKey(ActionHotTopicCreate)}
}

// HotTopicVoteRule allows 20 hot topic votes per minute per user
func HotTopicVoteRule() Rule {
	return Rule{Action: ActionHotTopicVote, MaxRequests: 20, Window: time.Minute, KeyFunc: ActionKey(ActionHotTopicVote)}
}

// APIRule is the coarse per-ip flood guard applied to every api route
func APIRule(perMinute int) Rule {
	return Rule{Action: ActionAPI, MaxRequests: perMinute, Window: time.Minute, KeyFunc: IPKey(ActionAPI)}
}
