package corpus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerms_DropsStopWords(t *testing.T) {
	assert.Equal(t, []string{"vacation"}, Terms("Tell me about vacation"))
	assert.Equal(t, []string{"vacation", "policy"}, Terms("What is our vacation policy?"))
}

func TestTerms_FallsBackWhenOnlyStopWords(t *testing.T) {
	assert.Equal(t, []string{"what", "is", "it"}, Terms("What is it?"))
}

func TestTerms_TrimsPunctuation(t *testing.T) {
	assert.Equal(t, []string{"dbo.employees", "salary"}, Terms(`"dbo.Employees" salary!!`))
	assert.Empty(t, Terms("   ?!  "))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("Which TABLE holds salaries", []string{"table"}))
	assert.False(t, ContainsAny("vacation", []string{"table", "column"}))
}

func TestAnyTermIn(t *testing.T) {
	assert.True(t, AnyTermIn([]string{"zzz", "vacation"}, "Vacation Policy"))
	assert.False(t, AnyTermIn([]string{"leave"}, "Vacation Policy"))
	assert.False(t, AnyTermIn([]string{""}, "Vacation Policy"))
}

func TestSort_StableDescending(t *testing.T) {
	results := []Result{
		{Source: "a", Score: 0.4},
		{Source: "b", Score: 0.9},
		{Source: "c", Score: 0.4},
		{Source: "d", Score: 1.2},
		{Source: "e", Score: 0.4},
	}
	Sort(results)

	var order []string
	for _, r := range results {
		order = append(order, r.Source)
	}
	assert.Equal(t, []string{"d", "b", "a", "c", "e"}, order)
}

func TestTop(t *testing.T) {
	results := []Result{{Score: 3}, {Score: 2}, {Score: 1}}
	assert.Len(t, Top(results, 2), 2)
	assert.Len(t, Top(results, 5), 3)
}
