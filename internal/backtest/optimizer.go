package backtest

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"math/rand"
	goruntime "runtime"
	"sort"
	"sync"

	"hqtrade.com/internal/model"
)

// OptimizationSetting 参数寻优空间，保持参数加入顺序
type OptimizationSetting struct {
	names  []string
	values map[string][]interface{}
}

func NewOptimizationSetting() *OptimizationSetting {
	return &OptimizationSetting{values: make(map[string][]interface{})}
}

// AddRange 加入一个数值区间参数，[start, end] 按 step 取值
func (s *OptimizationSetting) AddRange(name string, start, end, step float64) {
	if step <= 0 || end < start {
		return
	}
	var vals []interface{}
	for v := start; v <= end+1e-9; v += step {
		vals = append(vals, math.Round(v*1e9)/1e9)
	}
	s.add(name, vals)
}

// AddList 加入一个离散取值参数
func (s *OptimizationSetting) AddList(name string, vals ...interface{}) {
	if len(vals) == 0 {
		return
	}
	s.add(name, vals)
}

func (s *OptimizationSetting) add(name string, vals []interface{}) {
	if _, exists := s.values[name]; !exists {
		s.names = append(s.names, name)
	}
	s.values[name] = vals
}

// combinations 生成全部参数组合的笛卡尔积
func (s *OptimizationSetting) combinations() []map[string]interface{} {
	if len(s.names) == 0 {
		return nil
	}
	combos := []map[string]interface{}{{}}
	for _, name := range s.names {
		var next []map[string]interface{}
		for _, combo := range combos {
			for _, v := range s.values[name] {
				merged := make(map[string]interface{}, len(combo)+1)
				for k, val := range combo {
					merged[k] = val
				}
				merged[name] = v
				next = append(next, merged)
			}
		}
		combos = next
	}
	return combos
}

// Objective 从回测报告提取寻优目标值，越大越好
type Objective func(*Report) float64

func BySharpe(r *Report) float64      { return r.SharpeRatio }
func ByTotalReturn(r *Report) float64 { return r.TotalReturn }
func ByEndBalance(r *Report) float64  { return r.EndBalance }

// Trial 一次参数组合的评估结果
type Trial struct {
	Params map[string]interface{} `json:"Params"`
	Value  float64                `json:"Value"`
	Report *Report                `json:"Report,omitempty"`
}

// GAConfig 遗传算法参数
type GAConfig struct {
	PopulationSize int
	Generations    int
	CrossoverRate  float64
	MutationRate   float64
}

func (c *GAConfig) normalize() {
	if c.PopulationSize <= 0 {
		c.PopulationSize = 40
	}
	if c.Generations <= 0 {
		c.Generations = 20
	}
	if c.CrossoverRate <= 0 {
		c.CrossoverRate = 0.8
	}
	if c.MutationRate <= 0 {
		c.MutationRate = 0.1
	}
}

// Optimizer 对单个策略类做参数寻优。
// 每个组合在全新的回测引擎里评估，组合之间没有共享状态，可以并行。
type Optimizer struct {
	cfg       Config
	className string
	bars      []model.Bar
	objective Objective
	parallel  int
}

// NewOptimizer 创建寻优器，parallel <= 0 时按 CPU 数并行
func NewOptimizer(cfg Config, className string, bars []model.Bar, objective Objective, parallel int) *Optimizer {
	if objective == nil {
		objective = BySharpe
	}
	if parallel <= 0 {
		parallel = goruntime.NumCPU()
	}
	return &Optimizer{
		cfg:       cfg,
		className: className,
		bars:      bars,
		objective: objective,
		parallel:  parallel,
	}
}

// evaluate 在独立引擎里评估一个参数组合
func (o *Optimizer) evaluate(ctx context.Context, params map[string]interface{}) (Trial, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Trial{}, err
	}

	engine := NewEngine(o.cfg)
	if err := engine.AddStrategy(ctx, "optimize", o.className, raw); err != nil {
		return Trial{}, err
	}
	engine.SetBars(o.bars)

	report, err := engine.Run(ctx)
	if err != nil {
		return Trial{}, err
	}
	return Trial{Params: params, Value: o.objective(report), Report: report}, nil
}

// RunGrid 穷举全部组合，按目标值降序返回
func (o *Optimizer) RunGrid(ctx context.Context, setting *OptimizationSetting) ([]Trial, error) {
	combos := setting.combinations()
	if len(combos) == 0 {
		return nil, nil
	}
	log.Printf("Optimizer: grid search over %d combinations, parallel=%d", len(combos), o.parallel)

	trials := make([]Trial, len(combos))
	errs := make([]error, len(combos))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.parallel)
	for i, combo := range combos {
		i, combo := i, combo
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			trials[i], errs[i] = o.evaluate(ctx, combo)
		}()
	}
	wg.Wait()

	out := make([]Trial, 0, len(trials))
	for i, trial := range trials {
		if errs[i] != nil {
			log.Printf("Optimizer: combination %v failed: %v", combos[i], errs[i])
			continue
		}
		out = append(out, trial)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}

// RunGenetic 遗传算法寻优：轮盘赌选择 + 两点交叉 + 随机变异。
// 个体是各参数取值下标的向量，评估结果带缓存，代际之间精英保留。
func (o *Optimizer) RunGenetic(ctx context.Context, setting *OptimizationSetting, ga GAConfig) ([]Trial, error) {
	ga.normalize()
	names := setting.names
	if len(names) == 0 {
		return nil, nil
	}
	sizes := make([]int, len(names))
	for i, name := range names {
		sizes[i] = len(setting.values[name])
	}

	rng := rand.New(rand.NewSource(1))
	cache := make(map[string]Trial)
	var cacheMu sync.Mutex

	decode := func(genes []int) map[string]interface{} {
		params := make(map[string]interface{}, len(genes))
		for i, gi := range genes {
			params[names[i]] = setting.values[names[i]][gi]
		}
		return params
	}
	key := func(genes []int) string {
		raw, _ := json.Marshal(genes)
		return string(raw)
	}
	fitness := func(genes []int) (Trial, error) {
		k := key(genes)
		cacheMu.Lock()
		if trial, ok := cache[k]; ok {
			cacheMu.Unlock()
			return trial, nil
		}
		cacheMu.Unlock()

		trial, err := o.evaluate(ctx, decode(genes))
		if err != nil {
			return Trial{}, err
		}
		cacheMu.Lock()
		cache[k] = trial
		cacheMu.Unlock()
		return trial, nil
	}

	// 初始种群
	population := make([][]int, ga.PopulationSize)
	for i := range population {
		genes := make([]int, len(names))
		for j := range genes {
			genes[j] = rng.Intn(sizes[j])
		}
		population[i] = genes
	}

	evalAll := func(pop [][]int) ([]Trial, error) {
		trials := make([]Trial, len(pop))
		errs := make([]error, len(pop))
		var wg sync.WaitGroup
		sem := make(chan struct{}, o.parallel)
		for i, genes := range pop {
			i, genes := i, genes
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				trials[i], errs[i] = fitness(genes)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return trials, nil
	}

	var best Trial
	haveBest := false

	for gen := 0; gen < ga.Generations; gen++ {
		trials, err := evalAll(population)
		if err != nil {
			return nil, err
		}

		bestIdx := 0
		for i, trial := range trials {
			if trial.Value > trials[bestIdx].Value {
				bestIdx = i
			}
			if !haveBest || trial.Value > best.Value {
				best = trial
				haveBest = true
			}
		}
		log.Printf("Optimizer: generation %d best=%.4f", gen, trials[bestIdx].Value)

		// 轮盘赌：把适应度平移到正区间
		minVal := trials[0].Value
		for _, trial := range trials {
			if trial.Value < minVal {
				minVal = trial.Value
			}
		}
		weights := make([]float64, len(trials))
		var total float64
		for i, trial := range trials {
			weights[i] = trial.Value - minVal + 1e-9
			total += weights[i]
		}
		pick := func() []int {
			r := rng.Float64() * total
			for i, w := range weights {
				r -= w
				if r <= 0 {
					return population[i]
				}
			}
			return population[len(population)-1]
		}

		next := make([][]int, 0, ga.PopulationSize)
		next = append(next, append([]int(nil), population[bestIdx]...)) // elitism
		for len(next) < ga.PopulationSize {
			a := append([]int(nil), pick()...)
			b := append([]int(nil), pick()...)
			if rng.Float64() < ga.CrossoverRate && len(names) >= 2 {
				p1 := rng.Intn(len(names))
				p2 := rng.Intn(len(names))
				if p1 > p2 {
					p1, p2 = p2, p1
				}
				for j := p1; j <= p2; j++ {
					a[j], b[j] = b[j], a[j]
				}
			}
			for j := range a {
				if rng.Float64() < ga.MutationRate {
					a[j] = rng.Intn(sizes[j])
				}
			}
			next = append(next, a)
			if len(next) < ga.PopulationSize {
				for j := range b {
					if rng.Float64() < ga.MutationRate {
						b[j] = rng.Intn(sizes[j])
					}
				}
				next = append(next, b)
			}
		}
		population = next
	}

	// 汇总缓存里的全部评估结果
	cacheMu.Lock()
	out := make([]Trial, 0, len(cache))
	for _, trial := range cache {
		out = append(out, trial)
	}
	cacheMu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}
