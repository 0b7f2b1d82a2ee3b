package workmanager

import (
	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/types"
)

var log = logging.GetLogger("workmanager")

// WorkManager runs a chain of works in sequence on a background goroutine. The output
// of every work is merged into the input of the next ones.
type WorkManager struct {
}

// Execute runs the works and sends a single result on the returned channel: the
// merged data of all the works, or the error of the first failing one
func (w WorkManager) Execute(works ...Work) chan types.Pair[Data, error] {
	data := Data{}
	dataChannel := make(chan types.Pair[Data, error], 1)

	go func() {
		defer close(dataChannel)

		for _, worker := range works {
			result, err := worker.Execute(data)
			if err != nil {
				log.Warn().Err(err).Msgf("work %s failed", workName(worker))
				dataChannel <- types.Pair[Data, error]{First: Data{}, Second: err}
				return
			}

			for k, v := range result {
				data[k] = v
			}
		}
		dataChannel <- types.Pair[Data, error]{First: data, Second: nil}
	}()

	return dataChannel
}

type Data map[string]any

// Bool returns the value stored at key when it is a bool
func (d Data) Bool(key string) bool {
	v, _ := d[key].(bool)
	return v
}

func (d Data) Int(key string) int {
	v, _ := d[key].(int)
	return v
}

type Work interface {
	Execute(inputParams Data) (Data, error)
}

// NamedWork adapts a function to Work
type NamedWork struct {
	Name string
	Func func(inputParams Data) (Data, error)
}

func (n NamedWork) Execute(inputParams Data) (Data, error) {
	return n.Func(inputParams)
}

func workName(w Work) string {
	if named, ok := w.(NamedWork); ok {
		return named.Name
	}
	return "anonymous"
}
